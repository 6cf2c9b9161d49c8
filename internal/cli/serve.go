package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/lifecycle"
	"github.com/lazypower/recall/internal/resilience"
	"github.com/lazypower/recall/internal/search"
	"github.com/lazypower/recall/internal/server"
	"github.com/lazypower/recall/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	res := buildCoordinator(cfg)
	res.Degradation().ReportHealth("store", true)
	res.Degradation().ReportHealth("config", true)

	eng := search.New(db, cfg.Search)
	eng.SetCoordinator(res)

	// Prefer a real embedding model; fall back to TF-IDF over the stored
	// corpus so vector search still works offline.
	if search.ProbeOllama(cfg.Embedding.OllamaURL, cfg.Embedding.Model) {
		eng.SetEmbedder(search.NewOllamaEmbedder(cfg.Embedding.OllamaURL, cfg.Embedding.Model, cfg.Embedding.Dimensions))
		fmt.Fprintf(os.Stderr, "  embedder: ollama (%s)\n", cfg.Embedding.Model)
	} else {
		emb, tfidfErr := search.NewTFIDFEmbedder(db, 512)
		if tfidfErr != nil {
			fmt.Fprintf(os.Stderr, "warning: tfidf embedder init failed: %v\n", tfidfErr)
		} else {
			eng.SetEmbedder(emb)
			fmt.Fprintf(os.Stderr, "  embedder: tfidf (fallback)\n")
		}
	}

	manager := lifecycle.NewManager(db, cfg.Tiers)
	scheduler := lifecycle.NewScheduler(manager, res,
		time.Duration(cfg.Maintenance.PromotionIntervalMinutes)*time.Minute,
		time.Duration(cfg.Maintenance.DecayIntervalMinutes)*time.Minute)
	scheduler.Start()
	defer scheduler.Stop()

	srv := server.New(db, eng, manager, scheduler, res)
	addr := cfg.ListenAddr()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "recall serving on %s\n", addr)
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-done:
	}
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// openDB resolves the database path (flag config, env override, default
// location) and opens the store.
func openDB(cfg config.Config) (*store.DB, error) {
	dbPath := os.Getenv("RECALL_DB")
	if dbPath == "" {
		dbPath = cfg.Database.Path
	}
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	return store.Open(dbPath)
}

// buildCoordinator maps file configuration onto the resilience stack.
func buildCoordinator(cfg config.Config) *resilience.Coordinator {
	limits := make(map[string]resilience.Limit, len(cfg.RateLimit.Operations))
	for op, l := range cfg.RateLimit.Operations {
		limits[op] = resilience.Limit{
			PerMinute: l.PerMinute,
			PerHour:   l.PerHour,
			PerDay:    l.PerDay,
		}
	}

	return resilience.NewCoordinator(resilience.Config{
		RateLimiter: resilience.RateLimiterConfig{
			BurstMultiplier: cfg.RateLimit.BurstMultiplier,
			Cooldown:        time.Duration(cfg.RateLimit.CooldownSeconds) * time.Second,
		},
		Limits: limits,
		Circuit: resilience.CircuitConfig{
			FailureThreshold: cfg.Resilience.FailureThreshold,
			ResetTimeout:     time.Duration(cfg.Resilience.ResetTimeoutMs) * time.Millisecond,
			HalfOpenRequests: cfg.Resilience.HalfOpenRequests,
		},
		Retry: resilience.RetryConfig{
			MaxAttempts:       cfg.Resilience.RetryMaxAttempts,
			InitialDelay:      time.Duration(cfg.Resilience.RetryInitialDelayMs) * time.Millisecond,
			BackoffMultiplier: cfg.Resilience.RetryBackoffMultiplier,
			MaxDelay:          time.Duration(cfg.Resilience.RetryMaxDelayMs) * time.Millisecond,
		},
		CriticalComponents: []string{"store", "config"},
	})
}
