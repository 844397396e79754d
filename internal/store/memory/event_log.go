package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

// EventLog is an append-only, id-deduplicated order event log. Events of
// garbage-collected orders are removed together with their dedup ids.
type EventLog struct {
	mu      sync.RWMutex
	events  []domain.OrderEvent
	ids     map[string]struct{}
	byOrder map[string][]int
}

// NewEventLog returns an empty log.
func NewEventLog() *EventLog {
	return &EventLog{ids: make(map[string]struct{}), byOrder: make(map[string][]int)}
}

// Append records ev unless its id was seen before.
func (l *EventLog) Append(_ context.Context, ev domain.OrderEvent) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.ids[ev.ID]; dup {
		return false, nil
	}
	l.ids[ev.ID] = struct{}{}
	l.byOrder[ev.OrderID] = append(l.byOrder[ev.OrderID], len(l.events))
	l.events = append(l.events, ev)
	return true, nil
}

// ListByOrder returns the events of orderID in append order.
func (l *EventLog) ListByOrder(_ context.Context, orderID string) ([]domain.OrderEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx := l.byOrder[orderID]
	out := make([]domain.OrderEvent, 0, len(idx))
	for _, i := range idx {
		out = append(out, l.events[i])
	}
	return out, nil
}

// ListSince returns up to limit events with a timestamp at or after since.
func (l *EventLog) ListSince(_ context.Context, since time.Time, limit int) ([]domain.OrderEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.OrderEvent
	for _, ev := range l.events {
		if ev.Timestamp.Before(since) {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// DeleteByOrder removes every event of the given orders and compacts the
// log.
func (l *EventLog) DeleteByOrder(_ context.Context, orderIDs ...string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	drop := make(map[string]struct{}, len(orderIDs))
	for _, id := range orderIDs {
		if _, ok := l.byOrder[id]; ok {
			drop[id] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return 0, nil
	}

	kept := l.events[:0]
	byOrder := make(map[string][]int, len(l.byOrder)-len(drop))
	removed := 0
	for _, ev := range l.events {
		if _, gone := drop[ev.OrderID]; gone {
			delete(l.ids, ev.ID)
			removed++
			continue
		}
		byOrder[ev.OrderID] = append(byOrder[ev.OrderID], len(kept))
		kept = append(kept, ev)
	}
	clear(l.events[len(kept):])
	l.events = kept
	l.byOrder = byOrder
	return removed, nil
}

// Len returns the number of recorded events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

var _ domain.OrderEventStore = (*EventLog)(nil)
