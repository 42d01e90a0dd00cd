// Command cacheworker is a minimal worker-side daemon for a generic
// caching/conversion service, grounded on original_source/src/worker.rs's
// InitWorker example generalized to a non-init service. It performs no
// real document conversion (out of scope per spec.md section 1); instead
// it echoes the task's input back as its own result archive, enough to
// exercise the dispatch-convert-report round trip end-to-end.
package main

import (
	"archive/zip"
	"bytes"
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

	serviceName := getenv("CORTEX_WORKER_SERVICE", "cache_worker")

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("open store failed", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.RegisterDaemon(ctx, os.Getpid(), "cache_worker"); err != nil {
		logger.Error("register daemon failed", "err", err)
		os.Exit(1)
	}
	defer st.UnregisterDaemon(context.Background(), os.Getpid())

	client := &workerclient.Client{
		Config: workerclient.Config{
			Service:     serviceName,
			SourceAddr:  getenv("CORTEX_WORKER_SOURCE_URL", "ws://localhost:51695/source"),
			ResultAddr:  getenv("CORTEX_WORKER_RESULT_URL", "ws://localhost:51696/sink"),
			MessageSize: cfg.MessageSize,
		},
		Logger:  logger.With("worker", serviceName),
		Convert: echoConvert,
	}

	if err := client.Run(); err != nil {
		logger.Error("cache worker terminated with error", "err", err)
		os.Exit(1)
	}
}

// echoConvert stands in for a real document conversion: it builds a
// result archive carrying the input bytes back as "result" plus a
// cortex.log reporting a clean conversion (info:conversion:0), so the
// Sink's log parser derives a NoProblem status.
func echoConvert(_ int64, payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	resultFile, err := zw.Create("result")
	if err != nil {
		return nil, err
	}
	if _, err := resultFile.Write(payload); err != nil {
		return nil, err
	}

	logFile, err := zw.Create("cortex.log")
	if err != nil {
		return nil, err
	}
	if _, err := logFile.Write([]byte("info:conversion:0 success\n")); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
