package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ChunkType discriminates stream chunks.
type ChunkType string

const (
	ChunkData  ChunkType = "data"
	ChunkError ChunkType = "error"
	ChunkEnd   ChunkType = "end"
)

// StreamChunk is the unit exchanged on the internal streaming channel. An
// uncancelled sequence is finite and terminates with exactly one end or
// error chunk. Cancellation sends a best-effort error chunk; when the
// channel is full the sequence simply closes and the consumer falls back
// to the context error.
type StreamChunk struct {
	Type      ChunkType
	Payload   []byte
	Err       error
	Timestamp time.Time
}

// Streamer converts upstream response bodies into chunked client streams.
type Streamer struct {
	chunkSize int
	buffer    int
	logger    *slog.Logger
}

// NewStreamer constructs a Streamer. chunkSize is the upstream read size,
// buffer the number of in-flight chunks before the reader blocks.
func NewStreamer(chunkSize, buffer int, logger *slog.Logger) Streamer {
	if chunkSize <= 0 {
		chunkSize = 32 * 1024
	}
	if buffer <= 0 {
		buffer = 8
	}
	return Streamer{chunkSize: chunkSize, buffer: buffer, logger: logger}
}

// Stream copies upstream to the client as it arrives, flushing after every
// write. The bounded chunk channel is the backpressure coupling: a slow
// client stalls the writer, fills the channel and blocks the upstream read
// loop, so memory use stays bounded. Returns nil on a clean end chunk and
// the terminal error otherwise.
func (s Streamer) Stream(ctx context.Context, w io.Writer, flusher http.Flusher, upstream io.Reader) error {
	chunks := make(chan StreamChunk, s.buffer)
	go s.read(ctx, upstream, chunks)

	for chunk := range chunks {
		switch chunk.Type {
		case ChunkData:
			if _, err := w.Write(chunk.Payload); err != nil {
				// Client went away; drain so the reader goroutine exits.
				go drain(chunks)
				return fmt.Errorf("write to client: %w", err)
			}
			if flusher != nil {
				flusher.Flush()
			}
		case ChunkEnd:
			return nil
		case ChunkError:
			return chunk.Err
		}
	}
	// Channel closed without a terminal chunk: only possible when the
	// request context was cancelled mid-stream.
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// read pulls upstream bytes and emits chunks until a terminal condition.
// At most one terminal chunk is sent before the channel closes; only a
// cancelled stream may close without one.
func (s Streamer) read(ctx context.Context, upstream io.Reader, chunks chan<- StreamChunk) {
	defer close(chunks)
	buf := make([]byte, s.chunkSize)
	for {
		n, err := upstream.Read(buf)
		if n > 0 {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			select {
			case chunks <- StreamChunk{Type: ChunkData, Payload: payload, Timestamp: time.Now().UTC()}:
			case <-ctx.Done():
				s.sendCancelled(ctx, chunks)
				return
			}
		}
		if err != nil {
			terminal := StreamChunk{Type: ChunkEnd, Timestamp: time.Now().UTC()}
			if !errors.Is(err, io.EOF) {
				terminal = StreamChunk{Type: ChunkError, Err: fmt.Errorf("upstream stream: %w", err), Timestamp: time.Now().UTC()}
			}
			select {
			case chunks <- terminal:
			case <-ctx.Done():
			}
			return
		}
	}
}

// sendCancelled attempts to terminate a cancelled sequence with an error
// chunk. It never blocks; a stalled consumer gets the channel close and
// the context error instead.
func (s Streamer) sendCancelled(ctx context.Context, chunks chan<- StreamChunk) {
	select {
	case chunks <- StreamChunk{Type: ChunkError, Err: ctx.Err(), Timestamp: time.Now().UTC()}:
	default:
	}
}

func drain(chunks <-chan StreamChunk) {
	for range chunks {
	}
}
