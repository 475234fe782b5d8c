// Package stream fans share events out to in-process subscribers. It stands in
// for Kafka when no brokers are configured.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"practicedesk.io/internal/audit"
	"practicedesk.io/internal/document"
	"practicedesk.io/internal/finalise"
	"practicedesk.io/internal/notify"
)

// Stream fan-outs share events to all active subscribers.
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]chan notify.Event
	next    int
	dropped atomic.Int64
	now     func() time.Time
}

var _ finalise.Notifier = (*Stream)(nil)

func New() *Stream {
	return &Stream{
		subs: make(map[int]chan notify.Event),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan notify.Event {
	ch := make(chan notify.Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers. Slow subscribers miss events.
func (s *Stream) Publish(evt notify.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			s.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (s *Stream) Dropped() int64 { return s.dropped.Load() }

// Notify publishes a document.shared event.
func (s *Stream) Notify(ctx context.Context, ref document.Ref, clientID string) error {
	s.Publish(notify.Event{
		Event:      notify.EventShared,
		EntityType: ref.Type,
		EntityID:   ref.ID,
		ClientID:   clientID,
		RequestID:  audit.RequestIDFromContext(ctx),
		OccurredAt: s.now(),
	})
	return nil
}
