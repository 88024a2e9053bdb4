package realtime

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// FaultFunc lets tests fail selected operations. Returning a non-nil error
// aborts the operation before it touches any state.
type FaultFunc func(op, path string) error

// MemoryStore is an in-process Store with the same conditional-write
// semantics as RedisStore. Used by tests and by the server's --memory mode.
type MemoryStore struct {
	mu       sync.Mutex
	nodes    map[string]Node
	children map[string][]string
	fault    FaultFunc
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:    make(map[string]Node),
		children: make(map[string][]string),
		now:      time.Now,
	}
}

// SetFault installs (or clears, with nil) a fault injector.
func (m *MemoryStore) SetFault(f FaultFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = f
}

// SetClock overrides the clock used to resolve ServerTimestamp.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) check(ctx context.Context, op, p string) error {
	if err := ctx.Err(); err != nil {
		return unavailable(op, p, err)
	}
	if m.fault != nil {
		if err := m.fault(op, p); err != nil {
			return unavailable(op, p, err)
		}
	}
	return nil
}

func (m *MemoryStore) resolve(fields Node) Node {
	now := strconv.FormatInt(m.now().UnixMilli(), 10)
	out := make(Node, len(fields))
	for k, v := range fields {
		if v == ServerTimestamp {
			v = now
		}
		out[k] = v
	}
	return out
}

func (m *MemoryStore) register(p string) {
	parent, name := parentOf(p)
	for _, c := range m.children[parent] {
		if c == name {
			return
		}
	}
	m.children[parent] = append(m.children[parent], name)
}

func (m *MemoryStore) Get(ctx context.Context, p string) (Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "get", p); err != nil {
		return nil, err
	}
	n, ok := m.nodes[p]
	if !ok || len(n) == 0 {
		return nil, ErrNodeNotFound
	}
	out := make(Node, len(n))
	for k, v := range n {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) Set(ctx context.Context, p string, fields Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "set", p); err != nil {
		return err
	}
	m.nodes[p] = m.resolve(fields)
	m.register(p)
	return nil
}

func (m *MemoryStore) SetIfAbsent(ctx context.Context, p string, fields Node) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "nx", p); err != nil {
		return false, err
	}
	if n, ok := m.nodes[p]; ok && len(n) > 0 {
		return false, nil
	}
	m.nodes[p] = m.resolve(fields)
	m.register(p)
	return true, nil
}

func (m *MemoryStore) Update(ctx context.Context, p string, fields Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "update", p); err != nil {
		return err
	}
	n, ok := m.nodes[p]
	if !ok {
		n = make(Node)
		m.nodes[p] = n
	}
	for k, v := range m.resolve(fields) {
		n[k] = v
	}
	m.register(p)
	return nil
}

func (m *MemoryStore) Remove(ctx context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "remove", p); err != nil {
		return err
	}
	delete(m.nodes, p)
	parent, name := parentOf(p)
	kids := m.children[parent]
	for i, c := range kids {
		if c == name {
			m.children[parent] = append(kids[:i:i], kids[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) Increment(ctx context.Context, p, field string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "increment", p); err != nil {
		return 0, err
	}
	n, ok := m.nodes[p]
	if !ok {
		n = make(Node)
		m.nodes[p] = n
	}
	v := n.Int(field) + delta
	n[field] = strconv.FormatInt(v, 10)
	return v, nil
}

func (m *MemoryStore) Children(ctx context.Context, p string, offset, limit int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "children", p); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("realtime children %s: limit must be positive", p)
	}
	kids := m.children[p]
	if offset >= int64(len(kids)) {
		return nil, nil
	}
	end := offset + limit
	if end > int64(len(kids)) {
		end = int64(len(kids))
	}
	return append([]string(nil), kids[offset:end]...), nil
}
