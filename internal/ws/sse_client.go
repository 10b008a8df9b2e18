package ws

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// sseEventName labels every deployment frame so EventSource consumers can
// attach a single listener instead of parsing unnamed messages.
const sseEventName = "deployment"

// sseRetryMillis is the reconnect delay hint sent once per stream.
const sseRetryMillis = 5000

// SSEClient streams deployment events over an HTTP response using the
// Server-Sent Events wire format. Frames carry a monotonically increasing
// id so reconnecting consumers can detect gaps via Last-Event-ID.
type SSEClient struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	log     *slog.Logger
	closed  bool
	started bool
	nextID  uint64
	last    time.Time
}

// NewSSEClient builds an SSE client instance.
func NewSSEClient(writer io.Writer, flusher http.Flusher, logger *slog.Logger) *SSEClient {
	return &SSEClient{writer: writer, flusher: flusher, log: logger, last: time.Now().UTC()}
}

// Send emits one deployment event frame. Multi-line payloads are split
// into per-line data fields as the SSE format requires.
func (c *SSEClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}

	var frame bytes.Buffer
	if !c.started {
		fmt.Fprintf(&frame, "retry: %d\n\n", sseRetryMillis)
	}
	c.nextID++
	frame.WriteString("id: ")
	frame.WriteString(strconv.FormatUint(c.nextID, 10))
	frame.WriteString("\nevent: ")
	frame.WriteString(sseEventName)
	frame.WriteByte('\n')
	for _, line := range bytes.Split(payload, []byte("\n")) {
		frame.WriteString("data: ")
		frame.Write(line)
		frame.WriteByte('\n')
	}
	frame.WriteByte('\n')

	if _, err := c.writer.Write(frame.Bytes()); err != nil {
		c.closed = true
		c.log.Warn("sse send failed", "error", err)
		return err
	}
	c.started = true
	c.flusher.Flush()
	c.last = time.Now().UTC()
	return nil
}

// Heartbeat emits a comment frame to keep the connection alive.
func (c *SSEClient) Heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	if _, err := fmt.Fprint(c.writer, ": ping\n\n"); err != nil {
		c.closed = true
		return err
	}
	c.flusher.Flush()
	c.last = time.Now().UTC()
	return nil
}

// Close marks the stream as closed.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// LastActivity reports the timestamp of the most recent successful write.
func (c *SSEClient) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
