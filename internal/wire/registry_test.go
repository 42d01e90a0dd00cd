package wire

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsDial opens a websocket client connection to an httptest server's URL.
func wsDial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func TestRegistry_RegisterReplacesAndClosesPriorConnection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Keep the server-side handle open until the test closes the client.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	r := NewRegistry()
	first := wsDial(t, srv)
	defer first.Close()
	second := wsDial(t, srv)
	defer second.Close()

	r.Register("worker-a", first)
	r.Register("worker-a", second)

	// The first connection was closed by the handover; writing to it (or
	// reading) should now fail.
	first.SetWriteDeadline(time.Now().Add(time.Second))
	if err := first.WriteMessage(websocket.BinaryMessage, []byte{0}); err == nil {
		t.Fatalf("expected write on superseded connection to fail after handover")
	}
}

func TestRegistry_UnregisterIsNoOpAfterHandover(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	r := NewRegistry()
	first := wsDial(t, srv)
	defer first.Close()
	second := wsDial(t, srv)
	defer second.Close()

	r.Register("worker-a", first)
	r.Register("worker-a", second)
	r.Unregister("worker-a", first)

	if _, ok := r.byID["worker-a"]; !ok {
		t.Fatalf("expected second connection to remain registered after stale unregister")
	}
}
