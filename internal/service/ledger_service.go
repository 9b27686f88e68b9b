package service

import (
	"cyberrange_backend/internal/model"
	"cyberrange_backend/pkg/logger"
	"cyberrange_backend/pkg/monitoring"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// LedgerService is the append-only activity ledger. Producers hand events to
// a buffered channel and never block; a full buffer drops the event and
// counts the drop. A single writer goroutine persists events in order and
// fans them out to live websocket subscribers.
type LedgerService struct {
	store EventStore
	hub   *EventsHub

	events   chan model.ActivityEvent
	done     chan struct{}
	stopOnce sync.Once
}

func NewLedgerService(store EventStore, hub *EventsHub, buffer int) *LedgerService {
	if buffer <= 0 {
		buffer = 1024
	}
	return &LedgerService{
		store:  store,
		hub:    hub,
		events: make(chan model.ActivityEvent, buffer),
		done:   make(chan struct{}),
	}
}

// Record enqueues an event. Never blocks the caller's state transition.
func (s *LedgerService) Record(event model.ActivityEvent) {
	select {
	case s.events <- event:
	default:
		monitoring.LedgerDropped.Inc()
		logger.Log.Warn("Ledger buffer full, event dropped",
			zap.String("event_type", event.EventType),
			zap.String("session_id", event.SessionID))
	}
}

// Run consumes and persists events until Stop is called, then drains what is
// left in the buffer. Call in its own goroutine.
func (s *LedgerService) Run() {
	for {
		select {
		case event := <-s.events:
			s.append(event)
		case <-s.done:
			for {
				select {
				case event := <-s.events:
					s.append(event)
				default:
					return
				}
			}
		}
	}
}

func (s *LedgerService) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *LedgerService) append(event model.ActivityEvent) {
	if err := s.store.Append(&event); err != nil {
		logger.Log.Error("Failed to append ledger event",
			zap.String("event_type", event.EventType), zap.Error(err))
		return
	}
	if s.hub != nil {
		if raw, err := json.Marshal(event); err == nil {
			s.hub.Broadcast(raw)
		}
	}
}
