package events

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/peregrinehq/gangway/internal/ws"
)

type recordingSubscriber struct {
	mu       sync.Mutex
	payloads []string
}

func (r *recordingSubscriber) Send(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, string(payload))
	return nil
}

func (r *recordingSubscriber) Close() {}

func (r *recordingSubscriber) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func newTestListener() (*Listener, *ws.Hub) {
	hub := ws.NewHub()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewListener(nil, hub, "deploy_events", logger), hub
}

func waitForCount(t *testing.T, sub *recordingSubscriber, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sub.count() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("subscriber received %d payloads, want %d", sub.count(), want)
}

func TestDispatchFansOutToProjectSubscribers(t *testing.T) {
	listener, hub := newTestListener()
	sub := &recordingSubscriber{}
	other := &recordingSubscriber{}
	hub.Register("proj-1", sub)
	hub.Register("proj-2", other)

	payload := `{"project_id":"proj-1","deployment_id":"dep-1","status":"SUCCESS"}`
	if !listener.dispatch(payload) {
		t.Fatal("valid payload should dispatch")
	}

	waitForCount(t, sub, 1)
	sub.mu.Lock()
	got := sub.payloads[0]
	sub.mu.Unlock()
	if got != payload {
		t.Errorf("payload = %q, want raw notification %q", got, payload)
	}
	if other.count() != 0 {
		t.Errorf("other project received %d payloads", other.count())
	}
}

func TestDispatchDropsMalformedPayloads(t *testing.T) {
	listener, hub := newTestListener()
	sub := &recordingSubscriber{}
	hub.Register("proj-1", sub)

	if listener.dispatch(`{"project_id":`) {
		t.Error("malformed json should not dispatch")
	}
	if listener.dispatch(`not json at all`) {
		t.Error("non-json payload should not dispatch")
	}

	// A valid follow-up still flows, proving the loop survives bad input.
	if !listener.dispatch(`{"project_id":"proj-1","status":"FAILED"}`) {
		t.Fatal("valid payload after malformed ones should dispatch")
	}
	waitForCount(t, sub, 1)
}

func TestDispatchDropsPayloadsWithoutProject(t *testing.T) {
	listener, hub := newTestListener()
	sub := &recordingSubscriber{}
	hub.Register("proj-1", sub)

	if listener.dispatch(`{"deployment_id":"dep-1","status":"SUCCESS"}`) {
		t.Error("payload without project id should not dispatch")
	}
	if sub.count() != 0 {
		t.Errorf("subscriber received %d payloads, want 0", sub.count())
	}
}
