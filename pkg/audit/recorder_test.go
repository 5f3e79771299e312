package audit

import (
	"context"
	"testing"
	"time"
)

func TestRecorder_WritesEvents(t *testing.T) {
	store := NewMemoryStore()
	recorder := NewRecorder(store, nil)

	recorder.RecordEvent(context.Background(), "server_added", 1, map[string]string{"name": "alpha"})
	recorder.RecordEvent(context.Background(), "failover", 1, nil)

	if err := recorder.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	events, err := store.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events after close, got %d", len(events))
	}

	// Newest first.
	if events[0].Type != "failover" || events[1].Type != "server_added" {
		t.Errorf("unexpected event order: %q, %q", events[0].Type, events[1].Type)
	}
	if events[1].Fields["name"] != "alpha" {
		t.Errorf("fields not persisted: %v", events[1].Fields)
	}
	if events[0].Actor != "system" {
		t.Errorf("expected default actor %q, got %q", "system", events[0].Actor)
	}
	if events[0].ID == "" || events[0].ID == events[1].ID {
		t.Error("expected distinct non-empty event ids")
	}
}

func TestRecorder_ExplicitActor(t *testing.T) {
	store := NewMemoryStore()
	recorder := NewRecorder(store, nil)

	recorder.RecordEventAs(context.Background(), "ops-alice", "server_deleted", 7, nil)
	if err := recorder.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	events, err := store.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Actor != "ops-alice" {
		t.Errorf("expected actor ops-alice, got %q", events[0].Actor)
	}
	if events[0].ServerID != 7 {
		t.Errorf("expected server id 7, got %d", events[0].ServerID)
	}
}

func TestRecorder_DisabledIsNoOp(t *testing.T) {
	store := NewMemoryStore()
	recorder := NewRecorder(store, &Config{Enabled: false})

	recorder.RecordEvent(context.Background(), "server_added", 1, nil)
	if err := recorder.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	events, err := store.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events when disabled, got %d", len(events))
	}
}

// blockingStore stalls Append until released, to force the buffer full.
type blockingStore struct {
	MemoryStore
	release chan struct{}
}

func (b *blockingStore) Append(ctx context.Context, event *Event) error {
	<-b.release
	return b.MemoryStore.Append(ctx, event)
}

func TestRecorder_DropsWhenBufferFull(t *testing.T) {
	store := &blockingStore{release: make(chan struct{})}
	recorder := NewRecorder(store, &Config{
		Enabled:     true,
		AsyncBuffer: 1,
	})

	// First event is picked up by the worker and stalls; the buffer then
	// holds one more. Everything after that is dropped.
	for i := 0; i < 10; i++ {
		recorder.RecordEvent(context.Background(), "usage_recorded", 1, nil)
	}

	deadline := time.After(2 * time.Second)
	for recorder.Dropped() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected dropped events")
		case <-time.After(10 * time.Millisecond):
		}
	}

	close(store.release)
	if err := recorder.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	events, err := store.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if got := int64(len(events)) + recorder.Dropped(); got != 10 {
		t.Errorf("expected written+dropped == 10, got %d written, %d dropped",
			len(events), recorder.Dropped())
	}
}

func TestRecorder_CloseIsIdempotent(t *testing.T) {
	recorder := NewRecorder(NewMemoryStore(), nil)
	if err := recorder.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := recorder.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}
