// Package bus provides an in-process SignalBus used by tests and the dev
// mode. The redis cache package provides the production implementation.
package bus

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/gavelhq/gavel/internal/domain"
)

type subscription struct {
	pattern string
	ch      chan []byte
}

// Memory is an in-process SignalBus. Subscribe accepts glob patterns the same
// way redis PSUBSCRIBE does, so "auction:*" receives every room's events.
// Delivery is best-effort: a subscriber that falls behind drops messages
// rather than blocking publishers.
type Memory struct {
	mu      sync.RWMutex
	subs    []*subscription
	streams map[string][]domain.StreamMessage
	nextID  int64
}

var _ domain.SignalBus = (*Memory)(nil)

// NewMemory creates an empty bus.
func NewMemory() *Memory {
	return &Memory{streams: make(map[string][]domain.StreamMessage)}
}

// Publish fans the payload out to every subscription whose pattern matches
// the channel.
func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.subs {
		ok, err := path.Match(sub.pattern, channel)
		if err != nil || !ok {
			continue
		}
		select {
		case sub.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers a pattern subscription. The channel closes when ctx is
// cancelled.
func (m *Memory) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := &subscription{pattern: channel, ch: make(chan []byte, 256)}
	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		for i, s := range m.subs {
			if s == sub {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		close(sub.ch)
	}()
	return sub.ch, nil
}

// StreamAppend appends the payload to a durable in-memory stream.
func (m *Memory) StreamAppend(_ context.Context, stream string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.streams[stream] = append(m.streams[stream], domain.StreamMessage{
		ID:      fmt.Sprintf("%d-0", m.nextID),
		Payload: payload,
	})
	return nil
}

// StreamRead returns up to count entries with IDs strictly after lastID. An
// empty lastID reads from the beginning.
func (m *Memory) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.StreamMessage
	for _, msg := range m.streams[stream] {
		if lastID != "" && msg.ID <= lastID {
			continue
		}
		out = append(out, msg)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}
