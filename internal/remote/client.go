// Package remote implements HTTP clients for the external collaborators:
// the build service, the artifact registry, the managed runtime and the
// identity provider.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

// ErrNotFound indicates the remote service does not know the identifier.
var ErrNotFound = errors.New("remote: not found")

const (
	defaultTimeout  = 30 * time.Second
	requestAttempts = 3
)

// StatusError carries a non-success upstream response.
type StatusError struct {
	StatusCode int
	Reason     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote: status %d: %s", e.StatusCode, e.Reason)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultTimeout}
}

// doJSON issues a request with a JSON body (when in != nil), decodes a JSON
// response into out (when out != nil), and retries transient failures.
func doJSON(ctx context.Context, hc *http.Client, method, url string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	return retry.Do(func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := hc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return retry.Unrecoverable(ErrNotFound)
		case resp.StatusCode >= 500:
			return &StatusError{StatusCode: resp.StatusCode, Reason: readReason(resp.Body)}
		case resp.StatusCode >= 400:
			return retry.Unrecoverable(&StatusError{StatusCode: resp.StatusCode, Reason: readReason(resp.Body)})
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(requestAttempts),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
	)
}

func readReason(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(data) == 0 {
		return "no response body"
	}
	return string(data)
}
