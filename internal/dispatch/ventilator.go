package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dginev/cortex-dispatch/internal/clock"
	"github.com/dginev/cortex-dispatch/internal/store"
	"github.com/dginev/cortex-dispatch/internal/wire"
)

// ventilatorStore is the Task Store surface the Ventilator needs.
type ventilatorStore interface {
	serviceLookup
	ClearInFlight(ctx context.Context) error
	FetchTODO(ctx context.Context, serviceID int32, n int) ([]store.Task, error)
}

// Ventilator is the identity-aware request/reply dispatcher of spec.md
// section 4.3: a websocket substitute for the original ZeroMQ ROUTER
// socket (see SPEC_FULL.md's DOMAIN STACK section for the framing
// adaptation).
type Ventilator struct {
	Store        ventilatorStore
	Clock        clock.Clock
	Services     *ServicesCache
	Progress     *ProgressTable
	Completion   *CompletionQueue
	Metadata     *MetadataTracker
	Logger       *slog.Logger

	Addr           string
	QueueSize      int
	MessageSize    int
	RetryCeiling   int
	ExpiryPerRetry time.Duration
	JobLimit       int

	registry  *wire.Registry
	upgrader  websocket.Upgrader
	queuesMu  sync.Mutex
	queues    map[int32][]ProgressEntry
	dispatchN int
	dispatchMu sync.Mutex
	done      chan struct{}
	doneOnce  sync.Once
}

// NewVentilator constructs a Ventilator ready to Run.
func NewVentilator(v Ventilator) *Ventilator {
	v.registry = wire.NewRegistry()
	v.upgrader = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }}
	v.queues = make(map[int32][]ProgressEntry)
	v.done = make(chan struct{})
	return &v
}

// Run recovers orphaned in-flight tasks, then serves the source socket
// until ctx is canceled or the configured job limit is reached.
func (v *Ventilator) Run(ctx context.Context) error {
	if err := v.Store.ClearInFlight(ctx); err != nil {
		return fmt.Errorf("ventilator clear_in_flight: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/source", func(w http.ResponseWriter, r *http.Request) {
		conn, err := v.upgrader.Upgrade(w, r, nil)
		if err != nil {
			v.Logger.Error("ventilator upgrade failed", "err", err)
			return
		}
		v.handleConn(ctx, conn)
	})
	srv := &http.Server{Addr: v.Addr, Handler: wire.LogMiddleware(mux, v.Logger)}

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
	case <-v.done:
	case err := <-serveErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (v *Ventilator) handleConn(ctx context.Context, conn *websocket.Conn) {
	identityBytes, _, err := wire.ReadFrame(conn)
	if err != nil {
		conn.Close()
		return
	}
	identity := string(identityBytes)
	v.registry.Register(identity, conn)
	defer func() {
		v.registry.Unregister(identity, conn)
		conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		nameBytes, _, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		svc, ok := v.Services.ResolveByName(ctx, v.Store, string(nameBytes))
		if !ok {
			// Unknown service: ignored silently, per spec.md section 7.
			continue
		}

		if v.dispatchRequest(ctx, conn, identity, svc) {
			v.signalJobLimitIfReached()
		}
		if v.jobLimitReached() {
			return
		}
	}
}

// dispatchRequest handles one (worker_identity, service_name) request,
// implementing spec.md section 4.3 steps 3-6. It returns true if a real
// (non-mock) task was dispatched.
func (v *Ventilator) dispatchRequest(ctx context.Context, conn *websocket.Conn, identity string, svc *store.Service) bool {
	v.refillIfEmpty(ctx, svc)

	entry, ok := v.popOne(svc.ID)

	var taskID int64
	var payload []byte
	if ok {
		taskID = entry.Task.ID
		if svc.ID != store.ServiceInit {
			data, err := os.ReadFile(entry.Task.Entry)
			if err != nil {
				v.Logger.Error("ventilator read entry failed", "task_id", taskID, "err", err)
				data = nil
			}
			payload = data
		}
		// Progress table insert happens before the response is flushed, so
		// a racing Sink reply is always recognizable (spec.md section 5).
		v.Progress.Insert(entry)
	}

	if err := wire.WriteFrame(conn, []byte(strconv.FormatInt(taskID, 10)), true); err != nil {
		return ok
	}
	if err := wire.WriteChunked(conn, payload, v.MessageSize); err != nil {
		return ok
	}

	// record_dispatched fires even for the mock "no work" reply, matching
	// original_source's ventilator.rs.
	v.Metadata.RecordDispatched(identity, svc.ID, taskID)

	return ok
}

func (v *Ventilator) refillIfEmpty(ctx context.Context, svc *store.Service) {
	v.queuesMu.Lock()
	empty := len(v.queues[svc.ID]) == 0
	v.queuesMu.Unlock()
	if !empty {
		return
	}

	now := v.Clock.Now()
	tasks, err := v.Store.FetchTODO(ctx, svc.ID, v.QueueSize)
	if err != nil {
		v.Logger.Error("ventilator fetch_todo failed", "service_id", svc.ID, "err", err)
		tasks = nil
	}

	var fresh []ProgressEntry
	for _, t := range tasks {
		fresh = append(fresh, ProgressEntry{Task: t, CreatedAt: now, Retries: 0})
	}

	expired := v.Progress.SweepTimeouts(now, v.ExpiryPerRetry)
	for _, e := range expired {
		if e.Retries >= v.RetryCeiling {
			v.Completion.Push(store.TaskReport{
				Task:   e.Task,
				Status: store.StatusFatal,
				Messages: []store.LogMessage{{
					TaskID:   e.Task.ID,
					Severity: store.SeverityFatal,
					Category: "cortex",
					What:     "never_completed_with_retries",
				}},
			})
			continue
		}
		if e.Task.ServiceID == svc.ID {
			fresh = append(fresh, ProgressEntry{Task: e.Task, CreatedAt: e.CreatedAt, Retries: e.Retries + 1})
		} else {
			v.queuesMu.Lock()
			v.queues[e.Task.ServiceID] = append(v.queues[e.Task.ServiceID], ProgressEntry{Task: e.Task, CreatedAt: e.CreatedAt, Retries: e.Retries + 1})
			v.queuesMu.Unlock()
		}
	}

	if len(fresh) > 0 {
		v.queuesMu.Lock()
		v.queues[svc.ID] = append(v.queues[svc.ID], fresh...)
		v.queuesMu.Unlock()
	}
}

func (v *Ventilator) popOne(serviceID int32) (ProgressEntry, bool) {
	v.queuesMu.Lock()
	defer v.queuesMu.Unlock()
	q := v.queues[serviceID]
	if len(q) == 0 {
		return ProgressEntry{}, false
	}
	entry := q[0]
	v.queues[serviceID] = q[1:]
	return entry, true
}

func (v *Ventilator) signalJobLimitIfReached() {
	if v.JobLimit <= 0 {
		return
	}
	v.dispatchMu.Lock()
	v.dispatchN++
	reached := v.dispatchN >= v.JobLimit
	v.dispatchMu.Unlock()
	if reached {
		v.doneOnce.Do(func() { close(v.done) })
	}
}

func (v *Ventilator) jobLimitReached() bool {
	if v.JobLimit <= 0 {
		return false
	}
	select {
	case <-v.done:
		return true
	default:
		return false
	}
}

// ResultDir returns the directory a task's result archive is written
// into, shared with the Sink.
func ResultDir(entry string) string { return filepath.Dir(entry) }
