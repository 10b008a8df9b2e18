package gateway

import (
	"fmt"
	"net/http"

	"github.com/peregrinehq/gangway/internal/faults"
)

// handlerFunc is a gateway operation that may fail.
type handlerFunc func(w http.ResponseWriter, req *http.Request) error

// withErrorHandling guarantees a request never escapes without a response:
// returned errors and panics become categorized error bodies. When the
// response stream has already started, the connection is aborted instead so
// the client never receives a truncated body that parses as complete.
func (r *Router) withErrorHandling(next handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		rec := &responseRecorder{ResponseWriter: w}

		defer func() {
			p := recover()
			if p == nil {
				return
			}
			if p == http.ErrAbortHandler {
				panic(p)
			}
			r.logger.Error("panic in gateway handler", "panic", p, "path", req.URL.Path)
			if rec.wroteHeader {
				panic(http.ErrAbortHandler)
			}
			writeFault(rec, faults.New(faults.CategoryRuntime, faults.CodeRuntimeError, fmt.Sprintf("internal failure: %v", p)))
		}()

		err := next(rec, req)
		if err == nil {
			return
		}
		categorized := faults.Categorize(err)
		r.logger.Error("gateway operation failed",
			"category", categorized.Category, "code", categorized.Code,
			"error", err, "path", req.URL.Path)
		if rec.wroteHeader {
			// Headers are out; abort so chunked encoding is not cleanly
			// terminated and the client sees the truncation.
			panic(http.ErrAbortHandler)
		}
		writeFault(rec, categorized)
	}
}

// responseRecorder tracks whether the response has started.
type responseRecorder struct {
	http.ResponseWriter
	wroteHeader bool
}

func (r *responseRecorder) WriteHeader(status int) {
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(p)
}

// Flush passes through so streaming keeps working behind the recorder.
func (r *responseRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
