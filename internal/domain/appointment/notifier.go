package appointment

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Change types.
const (
	ChangeCreated = "appointment.created"
	ChangeUpdated = "appointment.updated"
	ChangeCleared = "appointment.cleared"
)

// Change describes one write to a log. Snapshot holds the full serialized
// list after the write; Record is the created or updated appointment.
type Change struct {
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	TenantID  string          `json:"tenantId"`
	Record    *Appointment    `json:"record,omitempty"`
	Snapshot  json.RawMessage `json:"snapshot"`
	Origin    string          `json:"origin"`
	Timestamp time.Time       `json:"timestamp"`
}

// Notifier fans changes out to subscribers.
type Notifier interface {
	Publish(ctx context.Context, c Change) error
	// Subscribe registers fn and returns a function that removes it.
	Subscribe(fn func(Change)) (unsubscribe func())
}

// listeners dispatches to callbacks in registration order.
type listeners struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []listener
}

type listener struct {
	id uint64
	fn func(Change)
}

func (l *listeners) add(fn func(Change)) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.subs = append(l.subs, listener{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, s := range l.subs {
				if s.id == id {
					l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (l *listeners) dispatch(c Change) {
	l.mu.RLock()
	subs := make([]listener, len(l.subs))
	copy(subs, l.subs)
	l.mu.RUnlock()

	for _, s := range subs {
		s.fn(c)
	}
}

func (l *listeners) count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}

// Bus delivers changes synchronously to subscribers in this process.
type Bus struct {
	listeners
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Publish(_ context.Context, c Change) error {
	b.dispatch(c)
	return nil
}

func (b *Bus) Subscribe(fn func(Change)) func() {
	return b.add(fn)
}
