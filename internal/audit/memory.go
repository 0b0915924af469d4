package audit

import (
	"context"
	"sync"
)

// MemoryPublisher keeps published events in memory for tests.
type MemoryPublisher struct {
	mu     sync.RWMutex
	events []Event
	err    error
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// FailWith makes every later Publish return err.
func (p *MemoryPublisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *MemoryPublisher) Publish(_ context.Context, events []Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, events...)
	return nil
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Event{}, p.events...)
}

// ByKind returns the published events of one kind.
func (p *MemoryPublisher) ByKind(kind Kind) []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Event
	for _, ev := range p.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (p *MemoryPublisher) Close() error { return nil }
