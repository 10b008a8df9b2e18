package ws

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSSEClientFramesEventsWithIDs(t *testing.T) {
	rec := httptest.NewRecorder()
	client := NewSSEClient(rec, rec, discardLogger())

	if err := client.Send([]byte(`{"status":"BUILDING"}`)); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := client.Send([]byte(`{"status":"SUCCESS"}`)); err != nil {
		t.Fatalf("second send: %v", err)
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, "retry: 5000\n\n") {
		t.Errorf("stream should open with a retry hint, got %q", body)
	}
	if strings.Count(body, "retry:") != 1 {
		t.Errorf("retry hint should be sent once, got %q", body)
	}
	for _, want := range []string{
		"id: 1\nevent: deployment\ndata: {\"status\":\"BUILDING\"}\n\n",
		"id: 2\nevent: deployment\ndata: {\"status\":\"SUCCESS\"}\n\n",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("frame %q missing from stream %q", want, body)
		}
	}
	if !rec.Flushed {
		t.Error("response was never flushed")
	}
}

func TestSSEClientSplitsMultilinePayloads(t *testing.T) {
	rec := httptest.NewRecorder()
	client := NewSSEClient(rec, rec, discardLogger())

	if err := client.Send([]byte("line one\nline two")); err != nil {
		t.Fatalf("send: %v", err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "data: line one\ndata: line two\n\n") {
		t.Errorf("multi-line payload not split into data fields: %q", body)
	}
}

func TestSSEClientRejectsWritesAfterClose(t *testing.T) {
	rec := httptest.NewRecorder()
	client := NewSSEClient(rec, rec, discardLogger())
	client.Close()

	if err := client.Send([]byte("late")); err != io.EOF {
		t.Errorf("Send after Close = %v, want io.EOF", err)
	}
	if err := client.Heartbeat(); err != io.EOF {
		t.Errorf("Heartbeat after Close = %v, want io.EOF", err)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("closed client wrote %q", rec.Body.String())
	}
}

func TestSSEClientHeartbeatIsCommentFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	client := NewSSEClient(rec, rec, discardLogger())

	before := client.LastActivity()
	if err := client.Heartbeat(); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if got := rec.Body.String(); got != ": ping\n\n" {
		t.Errorf("heartbeat frame = %q", got)
	}
	if !client.LastActivity().After(before) && client.LastActivity() != before {
		t.Error("heartbeat should refresh last activity")
	}
}
