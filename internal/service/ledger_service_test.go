package service

import (
	"cyberrange_backend/internal/model"
	"sync"
	"testing"
	"time"
)

type fakeEventStore struct {
	mu     sync.Mutex
	events []model.ActivityEvent
}

func (f *fakeEventStore) Append(event *model.ActivityEvent) error {
	f.mu.Lock()
	f.events = append(f.events, *event)
	f.mu.Unlock()
	return nil
}

func (f *fakeEventStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func TestLedgerPersistsInOrder(t *testing.T) {
	store := &fakeEventStore{}
	ledger := NewLedgerService(store, nil, 16)

	done := make(chan struct{})
	go func() {
		ledger.Run()
		close(done)
	}()

	for i := 0; i < 10; i++ {
		ledger.Record(model.ActivityEvent{EventType: model.EventLabStarted, UserID: uint(i)})
	}
	ledger.Stop()
	<-done

	if store.count() != 10 {
		t.Fatalf("persisted %d events, want 10", store.count())
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	for i, event := range store.events {
		if event.UserID != uint(i) {
			t.Fatalf("event %d has userID %d, ledger must preserve order", i, event.UserID)
		}
	}
}

func TestLedgerRecordNeverBlocks(t *testing.T) {
	store := &fakeEventStore{}
	// No consumer goroutine; the buffer fills and further records are dropped.
	ledger := NewLedgerService(store, nil, 4)

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			ledger.Record(model.ActivityEvent{EventType: model.EventFlagRejected})
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full buffer")
	}
}

func TestLedgerDrainsOnStop(t *testing.T) {
	store := &fakeEventStore{}
	ledger := NewLedgerService(store, nil, 16)

	// Enqueue before the consumer starts, then stop immediately: the drain
	// on shutdown must still persist everything buffered.
	for i := 0; i < 5; i++ {
		ledger.Record(model.ActivityEvent{EventType: model.EventLabStopped})
	}
	ledger.Stop()

	done := make(chan struct{})
	go func() {
		ledger.Run()
		close(done)
	}()
	<-done

	if store.count() != 5 {
		t.Errorf("persisted %d events after drain, want 5", store.count())
	}
}
