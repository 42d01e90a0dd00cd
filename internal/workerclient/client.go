// Package workerclient is the worker-side half of the wire protocol
// (spec.md section 6), grounded on original_source/src/worker.rs's
// InitWorker::start. It exercises the websocket substitute for the
// original ZeroMQ DEALER/PUSH sockets end-to-end, without performing any
// real document conversion.
package workerclient

import (
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dginev/cortex-dispatch/internal/wire"
)

const identityAlphabet = "abcdefghijklmnopqrstuvwxyz"

// RandomIdentity returns a 20-letter lowercase identity string, the same
// shape original_source's worker.rs generates for its DEALER socket.
func RandomIdentity() string {
	b := make([]byte, 20)
	for i := range b {
		b[i] = identityAlphabet[rand.Intn(len(identityAlphabet))]
	}
	return string(b)
}

// Config describes one worker client's connection parameters.
type Config struct {
	Service     string
	Identity    string
	SourceAddr  string // ws://host:port/source
	ResultAddr  string // ws://host:port/sink
	MessageSize int
	JobLimit    int
	IdleSleep   time.Duration
}

// Convert performs the service's document conversion: given a task's
// input bytes, it returns the result archive bytes to report back, or an
// error to report as a Fatal completion.
type Convert func(taskID int64, payload []byte) ([]byte, error)

// Client is a minimal worker daemon: it requests one task at a time from
// the source, converts it, and reports the result to the sink.
type Client struct {
	Config
	Logger  *slog.Logger
	Convert Convert

	source *websocket.Conn
	sink   *websocket.Conn
}

// Run connects to both sockets and serves tasks in a loop until an error
// occurs or the configured job limit is reached.
func (c *Client) Run() error {
	if c.Identity == "" {
		c.Identity = RandomIdentity()
	}
	if c.IdleSleep == 0 {
		c.IdleSleep = 60 * time.Second
	}

	source, _, err := websocket.DefaultDialer.Dial(c.SourceAddr, nil)
	if err != nil {
		return fmt.Errorf("dial source: %w", err)
	}
	defer source.Close()
	c.source = source

	sink, _, err := websocket.DefaultDialer.Dial(c.ResultAddr, nil)
	if err != nil {
		return fmt.Errorf("dial sink: %w", err)
	}
	defer sink.Close()
	c.sink = sink

	if err := wire.WriteFrame(c.source, []byte(c.Identity), false); err != nil {
		return fmt.Errorf("register identity: %w", err)
	}

	done := 0
	for {
		taskID, payload, err := c.requestTask()
		if err != nil {
			return fmt.Errorf("request task: %w", err)
		}
		if taskID == 0 {
			c.Logger.Info("no work available, sleeping", "service", c.Service)
			time.Sleep(c.IdleSleep)
			continue
		}

		result, convErr := c.Convert(taskID, payload)
		if convErr != nil {
			c.Logger.Error("conversion failed", "task_id", taskID, "err", convErr)
			result = nil
		}
		if err := c.reportResult(taskID, result); err != nil {
			return fmt.Errorf("report result: %w", err)
		}

		done++
		if c.JobLimit > 0 && done >= c.JobLimit {
			return nil
		}
	}
}

// requestTask sends one (service) request and reads back (task_id, payload).
// A task_id of zero means no work was available.
func (c *Client) requestTask() (int64, []byte, error) {
	if err := wire.WriteFrame(c.source, []byte(c.Service), false); err != nil {
		return 0, nil, err
	}
	idFrame, _, err := wire.ReadFrame(c.source)
	if err != nil {
		return 0, nil, err
	}
	taskID, err := strconv.ParseInt(string(idFrame), 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("parse task id: %w", err)
	}
	payload, err := wire.ReadAll(c.source)
	if err != nil {
		return 0, nil, err
	}
	return taskID, payload, nil
}

// reportResult sends (service, task_id, result) to the sink.
func (c *Client) reportResult(taskID int64, result []byte) error {
	if err := wire.WriteFrame(c.sink, []byte(c.Service), true); err != nil {
		return err
	}
	if err := wire.WriteFrame(c.sink, []byte(strconv.FormatInt(taskID, 10)), true); err != nil {
		return err
	}
	return wire.WriteChunked(c.sink, result, c.MessageSize)
}
