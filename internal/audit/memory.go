package audit

import (
	"context"
	"errors"
	"sync"
)

// MemoryLedger is an in-process PendingLedger.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[Key]Record
	order   []Key
}

var _ PendingLedger = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[Key]Record)}
}

func (l *MemoryLedger) Append(ctx context.Context, rec Record) error {
	rec.Pending = false
	err := l.put(rec)
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	return err
}

func (l *MemoryLedger) AppendPending(ctx context.Context, rec Record) error {
	rec.Pending = true
	return l.put(rec)
}

func (l *MemoryLedger) put(rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	key := rec.Key()
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[key]; ok {
		return ErrDuplicate
	}
	l.records[key] = rec
	l.order = append(l.order, key)
	return nil
}

func (l *MemoryLedger) Confirm(ctx context.Context, key Key) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[key]
	if !ok {
		return ErrNotFound
	}
	rec.Pending = false
	l.records[key] = rec
	return nil
}

// Discard drops a pending record. Confirmed records are never removed.
func (l *MemoryLedger) Discard(ctx context.Context, key Key) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[key]
	if !ok {
		return ErrNotFound
	}
	if !rec.Pending {
		return nil
	}
	delete(l.records, key)
	for i, k := range l.order {
		if k == key {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return nil
}

func (l *MemoryLedger) Pending(ctx context.Context) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Record
	for _, k := range l.order {
		if rec := l.records[k]; rec.Pending {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Records returns confirmed records for entityID in append order.
func (l *MemoryLedger) Records(entityID string) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Record
	for _, k := range l.order {
		rec := l.records[k]
		if rec.EntityID == entityID && !rec.Pending {
			out = append(out, rec)
		}
	}
	return out
}
