package dispatch

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dginev/cortex-dispatch/internal/logparser"
	"github.com/dginev/cortex-dispatch/internal/store"
	"github.com/dginev/cortex-dispatch/internal/wire"
)

// Sink is the pull-style result receiver of spec.md section 4.4: a
// websocket substitute for the original ZeroMQ PULL socket.
type Sink struct {
	Progress   *ProgressTable
	Completion *CompletionQueue
	Services   *ServicesCache
	Metadata   *MetadataTracker
	Logger     *slog.Logger

	Addr     string
	JobLimit int

	upgrader   websocket.Upgrader
	receivedMu sync.Mutex
	received   int
	done       chan struct{}
	doneOnce   sync.Once
}

// NewSink constructs a Sink ready to Run.
func NewSink(s Sink) *Sink {
	s.upgrader = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }}
	s.done = make(chan struct{})
	return &s
}

// Run serves the sink socket until ctx is canceled or the job limit (if
// any) is reached.
func (sk *Sink) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/sink", func(w http.ResponseWriter, r *http.Request) {
		conn, err := sk.upgrader.Upgrade(w, r, nil)
		if err != nil {
			sk.Logger.Error("sink upgrade failed", "err", err)
			return
		}
		sk.handleConn(ctx, conn)
	})
	srv := &http.Server{Addr: sk.Addr, Handler: wire.LogMiddleware(mux, sk.Logger)}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
	case <-sk.done:
	case err := <-serveErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (sk *Sink) handleConn(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !sk.handleOne(conn) {
			return
		}
		if sk.jobLimitReached() {
			return
		}
	}
}

// handleOne processes one message group: (service_name, task_id_ascii,
// payload frames...). It returns false when the connection should be
// closed (read error).
func (sk *Sink) handleOne(conn *websocket.Conn) bool {
	nameFrame, more, err := wire.ReadFrame(conn)
	if err != nil {
		return false
	}
	if !more {
		return true
	}
	taskIDFrame, _, err := wire.ReadFrame(conn)
	if err != nil {
		return false
	}
	serviceName := string(nameFrame)
	taskID, parseErr := strconv.ParseInt(string(taskIDFrame), 10, 64)
	if parseErr != nil {
		_ = wire.DrainAll(conn)
		return true
	}

	entry, ok := sk.Progress.Get(taskID)
	if !ok {
		_ = wire.DrainAll(conn)
		return true
	}

	svc, ok := sk.Services.Cached(serviceName)
	if !ok || svc.ID != entry.Task.ServiceID {
		_ = wire.DrainAll(conn)
		return true
	}

	if svc.ID == store.ServiceInit {
		_ = wire.DrainAll(conn)
		sk.finish(taskID, store.TaskReport{Task: entry.Task, Status: store.StatusNoProblem})
		sk.Metadata.RecordReceived(serviceName, svc.ID, taskID)
		sk.recordHandled()
		return true
	}

	payload, err := wire.ReadAll(conn)
	if err != nil {
		sk.finish(taskID, writeFailureReport(entry.Task, "read_stream_failed"))
		sk.recordHandled()
		return true
	}

	zipPath := filepath.Join(ResultDir(entry.Task.Entry), serviceName+".zip")
	if err := os.WriteFile(zipPath, payload, 0o644); err != nil {
		sk.Logger.Error("sink write result failed", "task_id", taskID, "err", err)
		sk.finish(taskID, writeFailureReport(entry.Task, "write_failed"))
		sk.recordHandled()
		return true
	}

	raw, err := readCortexLog(zipPath)
	if err != nil {
		sk.Logger.Error("sink read cortex.log failed", "task_id", taskID, "err", err)
		sk.finish(taskID, writeFailureReport(entry.Task, "ill_formed_response"))
		sk.recordHandled()
		return true
	}

	records, status := logparser.Parse(raw)
	messages := make([]store.LogMessage, 0, len(records))
	for _, r := range records {
		messages = append(messages, store.LogMessage{
			TaskID:   taskID,
			Severity: r.Severity,
			Category: r.Category,
			What:     r.What,
			Details:  r.Details,
		})
	}
	sk.finish(taskID, store.TaskReport{Task: entry.Task, Status: status, Messages: messages})
	sk.Metadata.RecordReceived(serviceName, svc.ID, taskID)
	sk.recordHandled()
	return true
}

// finish removes the progress entry before enqueuing the completion
// report, per spec.md section 5's no-double-finalize ordering guarantee.
func (sk *Sink) finish(taskID int64, report store.TaskReport) {
	sk.Progress.Remove(taskID)
	sk.Completion.Push(report)
}

func writeFailureReport(task store.Task, what string) store.TaskReport {
	return store.TaskReport{
		Task:   task,
		Status: store.StatusFatal,
		Messages: []store.LogMessage{{
			TaskID:   task.ID,
			Severity: store.SeverityFatal,
			Category: "cortex",
			What:     what,
		}},
	}
}

func readCortexLog(zipPath string) ([]byte, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open result archive: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if filepath.Base(f.Name) == "cortex.log" {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("open cortex.log: %w", err)
			}
			defer rc.Close()
			data, err := io.ReadAll(rc)
			if err != nil {
				return nil, fmt.Errorf("read cortex.log: %w", err)
			}
			return data, nil
		}
	}
	return nil, fmt.Errorf("cortex.log not found in %s", zipPath)
}

func (sk *Sink) recordHandled() {
	if sk.JobLimit <= 0 {
		return
	}
	sk.receivedMu.Lock()
	sk.received++
	reached := sk.received >= sk.JobLimit
	sk.receivedMu.Unlock()
	if reached {
		sk.doneOnce.Do(func() { close(sk.done) })
	}
}

func (sk *Sink) jobLimitReached() bool {
	if sk.JobLimit <= 0 {
		return false
	}
	select {
	case <-sk.done:
		return true
	default:
		return false
	}
}
