// Package main is the entry point for the llmrouter gateway.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/axiomgate/llmproxy/internal/config"
	"github.com/axiomgate/llmproxy/internal/events"
	"github.com/axiomgate/llmproxy/internal/httpapi"
	"github.com/axiomgate/llmproxy/internal/metrics"
	"github.com/axiomgate/llmproxy/internal/obslog"
	"github.com/axiomgate/llmproxy/internal/orchestrator"
	"github.com/axiomgate/llmproxy/internal/policy/builtin"
	"github.com/axiomgate/llmproxy/internal/policy/manager"
	"github.com/axiomgate/llmproxy/internal/streamcontext"
	"github.com/axiomgate/llmproxy/internal/upstream"
)

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := obslog.New(slog.LevelInfo)

	resolver, err := buildResolver(cfg)
	if err != nil {
		log.Fatalf("failed to build provider registry: %v", err)
	}

	policyOptions, err := json.Marshal(cfg.Policy.Options)
	if err != nil {
		log.Fatalf("failed to encode policy options: %v", err)
	}

	mgr := manager.New(builtin.NoOp{})
	if err := mgr.Load(manager.Config{Class: cfg.Policy.Class, Options: policyOptions}); err != nil {
		log.Fatalf("failed to load policy %q: %v", cfg.Policy.Class, err)
	}

	store := buildStreamStore(cfg)

	sink := events.NewFanOut([]events.Sink{
		events.SinkFunc(func(_ context.Context, rec events.Record) {
			logger.Info("transaction event", "kind", rec.Kind, "transaction_id", rec.TransactionID)
		}),
	}, defaultEventQueueCapacity, defaultEventWorkers)
	defer sink.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	sink.OnDrop(m.EventsDropped.Inc)

	orch := orchestrator.New(orchestrator.Config{
		Resolver:        resolver,
		Policies:        mgr,
		Sink:            sink,
		Metrics:         m,
		StreamStore:     store,
		Logger:          logger,
		Timeouts:        cfg.Timeouts,
		EgressQueueSize: cfg.EgressQueueSize,
	})

	srv := httpapi.New(cfg, orch, mgr, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("llmrouter listening", "port", cfg.Server.Port)

	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

const (
	defaultEventQueueCapacity = 1024
	defaultEventWorkers       = 2
)

// providerFactory builds an upstream.Client from one provider's config
// entry. Generalized from the teacher's providerFactory map in this same
// file — same shape, now returning an upstream.Client instead of a
// provider.Provider.
type providerFactory func(apiKey, baseURL string) upstream.Client

var providerFactories = map[string]providerFactory{
	"openai": func(apiKey, baseURL string) upstream.Client {
		return upstream.NewOpenAIClient(apiKey, baseURL, http.DefaultClient)
	},
	"anthropic": func(apiKey, baseURL string) upstream.Client {
		return upstream.NewAnthropicClient(apiKey, baseURL, http.DefaultClient)
	},
	"google": func(apiKey, baseURL string) upstream.Client {
		return upstream.NewGoogleClient(apiKey, baseURL, http.DefaultClient)
	},
}

// buildResolver builds the model → upstream.Client registry from
// cfg.Providers, the same "factory map keyed by config provider name,
// iterate each provider's models list" shape the teacher's main.go used
// for its provider.Provider registry.
func buildResolver(cfg *config.Config) (orchestrator.ClientResolver, error) {
	models := make(map[string]upstream.Client)

	for name, provCfg := range cfg.Providers {
		factory, ok := providerFactories[name]
		if !ok {
			return nil, fmt.Errorf("unknown provider in config: %q", name)
		}
		client := factory(provCfg.APIKey, provCfg.BaseURL)
		for _, model := range provCfg.Models {
			models[model] = client
		}
	}

	return func(model string) (upstream.Client, error) {
		normalized := upstream.NormalizeModel(model)
		if c, ok := models[normalized]; ok {
			return c, nil
		}
		if c, ok := models[model]; ok {
			return c, nil
		}
		return nil, fmt.Errorf("unknown model: %q", model)
	}, nil
}

// buildStreamStore returns a Redis-backed Store when cfg.StreamStore.RedisURL
// is set, and an in-memory one otherwise — the same fallback the design
// describes as acceptable for a single-replica deployment.
func buildStreamStore(cfg *config.Config) streamcontext.Store {
	if cfg.StreamStore.RedisURL == "" {
		return streamcontext.NewMemoryStore(cfg.StreamStore.DefaultTTL, time.Minute)
	}

	opts, err := redis.ParseURL(cfg.StreamStore.RedisURL)
	if err != nil {
		log.Fatalf("invalid stream_store.redis_url: %v", err)
	}
	client := redis.NewClient(opts)
	return streamcontext.NewRedisStore(client, cfg.StreamStore.DefaultTTL)
}
