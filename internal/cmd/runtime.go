package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/quillforge/quill/internal/client"
	"github.com/quillforge/quill/internal/config"
	"github.com/quillforge/quill/internal/event"
	"github.com/quillforge/quill/internal/logging"
	"github.com/quillforge/quill/internal/metrics"
	"github.com/quillforge/quill/internal/pipeline"
	"github.com/quillforge/quill/internal/scoring"
	"github.com/quillforge/quill/internal/tournament"
	"github.com/quillforge/quill/internal/workflow"
)

// runtime bundles the collaborators every command builds from config.
type runtime struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.Metrics
	bus     *event.Bus
	client  *client.Client
}

func newRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	c, err := client.New(cfg.API.BaseURL, cfg.API.Token,
		client.WithLogger(logger),
		client.WithTimeout(cfg.API.Timeout()),
	)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	bus := event.NewBus(logger)
	bus.SubscribeAll(func(e event.Event) {
		logger.Debug("event", "type", e.EventType())
	})

	return &runtime{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.Default(),
		bus:     bus,
		client:  c,
	}, nil
}

// newLogger writes JSON logs to the rotated log file, or only errors to
// stderr when file logging is disabled.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NewLogger("", logging.LevelError)
	}
	logger, err := logging.NewLoggerWithRotation(cfg.Logging.ResolveDir(), cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	return logger, nil
}

func (r *runtime) Close() {
	r.bus.Clear()
	_ = r.logger.Close()
}

// scorer returns the remote scorer, cached when scoring.cache_size > 0.
func (r *runtime) scorer() (scoring.Scorer, error) {
	if r.cfg.Scoring.CacheSize <= 0 {
		return r.client, nil
	}
	return scoring.NewCachingScorer(r.client, r.cfg.Scoring.CacheSize, r.metrics)
}

func (r *runtime) executor(s scoring.Scorer) *pipeline.Executor {
	return pipeline.NewExecutor(r.client,
		pipeline.WithLogger(r.logger),
		pipeline.WithBus(r.bus),
		pipeline.WithScorer(s),
		pipeline.WithRescore(r.cfg.Pipeline.Rescore),
		pipeline.WithRecorder(r.metrics),
	)
}

func (r *runtime) coordinator() *tournament.Coordinator {
	return tournament.NewCoordinator(tournament.CoordinatorConfig{
		Backend:           r.client,
		Logger:            r.logger,
		Bus:               r.bus,
		MinAgents:         r.cfg.Tournament.MinAgents,
		DefaultStrategies: r.cfg.Tournament.Strategies,
		DefaultVariants:   r.cfg.Tournament.VariantsPerAgent,
		PollInterval:      r.cfg.Poll.Interval(),
		ErrorThreshold:    r.cfg.Poll.ErrorThreshold,
		PollRecorder:      r.metrics,
	})
}

// machine creates a workflow machine. coord may be nil for scaffold-only use.
func (r *runtime) machine(coord *tournament.Coordinator) *workflow.Machine {
	return workflow.New(workflow.Config{
		Coordinator: coord,
		Generator:   r.client,
		Enricher:    r.client,
		Logger:      r.logger,
		Bus:         r.bus,
		Recorder:    r.metrics,
	})
}

// metricsAddr returns the address to serve /metrics on, or "" when disabled.
func (r *runtime) metricsAddr(override string) string {
	if override != "" {
		return override
	}
	if r.cfg.Metrics.Enabled {
		return r.cfg.Metrics.ListenAddr
	}
	return ""
}

// serveMetrics serves /metrics on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, logger *logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(nil))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	logger.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// isInteractive reports whether both stdin and stdout are terminals.
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}
