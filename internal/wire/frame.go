// Package wire is the substitute for CorTeX's original ZeroMQ ROUTER/PULL
// sockets (spec.md section 6): a websocket framing convention that
// preserves the same message-group shape — an identity-keyed connection,
// multi-frame chunked payload streaming with a "more" flag, and an
// all-zero sentinel for "no work" — over gorilla/websocket instead.
package wire

import (
	"fmt"

	"github.com/gorilla/websocket"
)

const (
	flagMore byte = 1
	flagLast byte = 0
)

// WriteFrame sends one frame, prefixed with a one-byte more-flag, the way
// ZeroMQ's SNDMORE flag marks all but the last frame of a message group.
func WriteFrame(conn *websocket.Conn, payload []byte, more bool) error {
	flag := flagLast
	if more {
		flag = flagMore
	}
	msg := make([]byte, 1+len(payload))
	msg[0] = flag
	copy(msg[1:], payload)
	if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame and reports whether more frames follow in this
// message group.
func ReadFrame(conn *websocket.Conn) (payload []byte, more bool, err error) {
	kind, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, false, fmt.Errorf("read frame: %w", err)
	}
	if kind != websocket.BinaryMessage || len(msg) == 0 {
		return nil, false, fmt.Errorf("read frame: expected a non-empty binary frame")
	}
	return msg[1:], msg[0] == flagMore, nil
}

// WriteChunked streams data as consecutive frames of at most chunkSize
// bytes, the last one carrying more=false. An empty payload is sent as a
// single empty final frame (used for the init service's empty reply and
// for the "no work" mock response's empty payload).
func WriteChunked(conn *websocket.Conn, data []byte, chunkSize int) error {
	if len(data) == 0 {
		return WriteFrame(conn, nil, false)
	}
	for offset := 0; offset < len(data); offset += chunkSize {
		end := offset + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := WriteFrame(conn, data[offset:end], end < len(data)); err != nil {
			return err
		}
	}
	return nil
}

// ReadAll reads frames until the more-flag is false and returns the
// concatenated payload.
func ReadAll(conn *websocket.Conn) ([]byte, error) {
	var buf []byte
	for {
		frame, more, err := ReadFrame(conn)
		if err != nil {
			return nil, err
		}
		buf = append(buf, frame...)
		if !more {
			return buf, nil
		}
	}
}

// DrainAll discards frames until the more-flag is false. Used by the error
// paths of the protocol (unknown task, service mismatch) which must still
// consume the remaining frames of a message group before continuing.
func DrainAll(conn *websocket.Conn) error {
	for {
		_, more, err := ReadFrame(conn)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}
