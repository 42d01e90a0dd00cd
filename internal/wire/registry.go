package wire

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Registry is the identity-keyed connection table the Ventilator's source
// socket uses in place of ZeroMQ ROUTER's internal routing table. Register
// implements "router_handover": a reconnecting worker with the same
// identity replaces (and closes) its prior connection.
type Registry struct {
	mu    sync.Mutex
	byID  map[string]*websocket.Conn
}

// NewRegistry returns an empty identity registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*websocket.Conn)}
}

// Register associates identity with conn, closing and replacing any prior
// connection registered under the same identity.
func (r *Registry) Register(identity string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byID[identity]; ok && old != conn {
		_ = old.Close()
	}
	r.byID[identity] = conn
}

// Unregister removes identity if it still maps to conn (a later handover
// may already have replaced it, in which case this is a no-op).
func (r *Registry) Unregister(identity string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byID[identity]; ok && cur == conn {
		delete(r.byID, identity)
	}
}
