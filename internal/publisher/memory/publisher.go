// Package memory is the dev-mode publisher: page completion events are
// held in process instead of leaving the service.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Event is one recorded page completion publish.
type Event struct {
	Topic   string
	Payload any
}

// Publisher buffers events in memory for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []Event
}

// New returns an empty in-memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish appends the event and returns a synthetic message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Event{Topic: topic, Payload: payload})
	return fmt.Sprintf("mem-%d", len(p.events)), nil
}

// Events returns a copy of everything published so far.
func (p *Publisher) Events() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}
