// Package app is the Manager of spec.md section 4.6: it spawns the
// Ventilator, Sink, and Finalizer as peer goroutines sharing the services
// cache, progress table, and completion queue, and reports the first of
// them to fail.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dginev/cortex-dispatch/internal/clock"
	"github.com/dginev/cortex-dispatch/internal/config"
	"github.com/dginev/cortex-dispatch/internal/dispatch"
	"github.com/dginev/cortex-dispatch/internal/store"
)

// App wires the three dispatcher threads together, the Go analogue of
// original_source's TaskManager.
type App struct {
	cfg config.Config
	log *slog.Logger

	store *store.Store

	ventilator *dispatch.Ventilator
	sink       *dispatch.Sink
	finalizer  *dispatch.Finalizer
}

// New opens the store, runs its migrations, and constructs the three
// threads and the structures they share.
func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	st, err := store.Open(context.Background(), cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	clk := clock.System{}
	services := dispatch.NewServicesCache()
	progress := dispatch.NewProgressTable(cfg.QueueCap)
	completion := dispatch.NewCompletionQueue(cfg.QueueCap)
	metadata := dispatch.NewMetadataTracker(st, clk, logger.With("module", "metadata"))

	ventilator := dispatch.NewVentilator(dispatch.Ventilator{
		Store:          st,
		Clock:          clk,
		Services:       services,
		Progress:       progress,
		Completion:     completion,
		Metadata:       metadata,
		Logger:         logger.With("module", "ventilator"),
		Addr:           cfg.SourceAddr,
		QueueSize:      cfg.QueueSize,
		MessageSize:    cfg.MessageSize,
		RetryCeiling:   cfg.RetryCeiling,
		ExpiryPerRetry: cfg.ExpiryPerRetry,
		JobLimit:       cfg.JobLimit,
	})
	sink := dispatch.NewSink(dispatch.Sink{
		Progress:   progress,
		Completion: completion,
		Services:   services,
		Metadata:   metadata,
		Logger:     logger.With("module", "sink"),
		Addr:       cfg.ResultAddr,
		JobLimit:   cfg.JobLimit,
	})
	finalizer := &dispatch.Finalizer{
		Store:      st,
		Clock:      clk,
		Completion: completion,
		Logger:     logger.With("module", "finalizer"),
		IdleSleep:  cfg.FinalizerIdle,
		RetryCount: cfg.MarkDoneRetry,
		RetryDelay: cfg.MarkDoneDelay,
		JobLimit:   cfg.JobLimit,
	}

	return &App{
		cfg:        cfg,
		log:        logger,
		store:      st,
		ventilator: ventilator,
		sink:       sink,
		finalizer:  finalizer,
	}, nil
}

// RegisterSelf records this process's pid in the daemons table, per
// spec.md section 6.
func (a *App) RegisterSelf(ctx context.Context) error {
	return a.store.RegisterDaemon(ctx, os.Getpid(), "dispatcher")
}

// UnregisterSelf removes this process's daemons row on clean shutdown.
func (a *App) UnregisterSelf(ctx context.Context) error {
	return a.store.UnregisterDaemon(ctx, os.Getpid())
}

// Run starts the three threads and blocks until all three have stopped. If
// any thread terminates abnormally (error or panic), Run
// cancels the others and returns a fatal error; if all three complete an
// orderly shutdown (job limit reached, or ctx canceled), it returns nil.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan error, 3)
	go runGuarded("ventilator", func() error { return a.ventilator.Run(runCtx) }, results)
	go runGuarded("sink", func() error { return a.sink.Run(runCtx) }, results)
	go runGuarded("finalizer", func() error { return a.finalizer.Run(runCtx) }, results)

	var firstErr error
	for i := 0; i < 3; i++ {
		if err := <-results; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	if firstErr != nil {
		return fmt.Errorf("dispatcher terminated abnormally: %w", firstErr)
	}
	return nil
}

// runGuarded runs fn, converting a panic (the threads' deliberate "fail
// loud" backpressure/retry-exhaustion signal) into an error sent on
// results, the same way the Manager observes a thread panic in
// original_source's manager.rs.
func runGuarded(name string, fn func() error, results chan<- error) {
	defer func() {
		if r := recover(); r != nil {
			results <- fmt.Errorf("%s panicked: %v", name, r)
		}
	}()
	results <- fn()
}
