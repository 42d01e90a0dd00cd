// Command initworker is a minimal worker-side daemon for the built-in
// "init" service, grounded on original_source/src/worker.rs's
// InitWorker. It performs no real corpus import (that importer is out of
// scope per spec.md section 1); it exists to exercise the wire protocol's
// init-service path end-to-end.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/dginev/cortex-dispatch/internal/config"
	"github.com/dginev/cortex-dispatch/internal/store"
	"github.com/dginev/cortex-dispatch/internal/workerclient"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("open store failed", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.RegisterDaemon(ctx, os.Getpid(), "init_worker"); err != nil {
		logger.Error("register daemon failed", "err", err)
		os.Exit(1)
	}
	defer st.UnregisterDaemon(context.Background(), os.Getpid())

	client := &workerclient.Client{
		Config: workerclient.Config{
			Service:     "init",
			SourceAddr:  getenv("CORTEX_WORKER_SOURCE_URL", "ws://localhost:51695/source"),
			ResultAddr:  getenv("CORTEX_WORKER_RESULT_URL", "ws://localhost:51696/sink"),
			MessageSize: cfg.MessageSize,
		},
		Logger: logger.With("worker", "init"),
		Convert: func(taskID int64, _ []byte) ([]byte, error) {
			// Real corpus import (original_source's Importer) is out of
			// scope; the init service reports success with no payload and
			// the Sink treats it as a no-op completion.
			logger.Info("init task acknowledged", "task_id", taskID)
			return nil, nil
		},
	}

	if err := client.Run(); err != nil {
		logger.Error("init worker terminated with error", "err", err)
		os.Exit(1)
	}
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
