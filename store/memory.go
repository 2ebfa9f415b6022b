package store

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value   string
	expires time.Time
}

// Memory is an in-process KV. Subscribers that fall behind lose messages.
type Memory struct {
	mu    sync.Mutex
	kv    map[string]entry
	lists map[string][]string
	subs  map[string]map[chan string]struct{}
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		kv:    make(map[string]entry),
		lists: make(map[string][]string),
		subs:  make(map[string]map[chan string]struct{}),
		now:   time.Now,
	}
}

// SetClock replaces the clock used for expiry.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.kv[key]
	if !ok {
		return "", ErrNotFound
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.kv, key)
		return "", ErrNotFound
	}
	return e.value, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := entry{value: value}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.kv[key] = e
	return nil
}

func (m *Memory) Push(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	for _, v := range values {
		l = append([]string{v}, l...)
	}
	m.lists[key] = l
	return nil
}

func (m *Memory) Trim(_ context.Context, key string, keep int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.lists[key]; int64(len(l)) > keep {
		m.lists[key] = l[:max(keep, 0)]
	}
	return nil
}

// Range follows Redis LRANGE: stop is inclusive and negative indexes count
// from the end.
func (m *Memory) Range(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	n := int64(len(l))
	if start < 0 {
		start = max(n+start, 0)
	}
	if stop < 0 {
		stop = n + stop
	}
	stop = min(stop, n-1)
	if start > stop {
		return []string{}, nil
	}
	out := make([]string, stop-start+1)
	copy(out, l[start:stop+1])
	return out, nil
}

func (m *Memory) Publish(_ context.Context, channel, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs[channel] {
		select {
		case ch <- message:
		default:
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	ch := make(chan string, 64)
	m.mu.Lock()
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[chan string]struct{})
	}
	m.subs[channel][ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs[channel], ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

func (m *Memory) Close() error { return nil }
