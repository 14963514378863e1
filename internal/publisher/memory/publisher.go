// Package memory provides an in-process event publisher used in
// development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Event is one published message.
type Event struct {
	ID    string
	Topic string
	Data  []byte
}

// Publisher records events in memory.
type Publisher struct {
	mu     sync.Mutex
	events []Event
	nextID int
}

// New creates an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish marshals and records the event, returning a synthetic id.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal event %s: %w", topic, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := fmt.Sprintf("mem-%d", p.nextID)
	p.events = append(p.events, Event{ID: id, Topic: topic, Data: data})
	return id, nil
}

// Events returns a copy of everything published so far.
func (p *Publisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// EventsFor returns published events for one topic.
func (p *Publisher) EventsFor(topic string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Event
	for _, ev := range p.events {
		if ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out
}
