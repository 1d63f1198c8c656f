package db

import (
	"context"
	"hash/fnv"
	"sharebin/pkg/domain"
	"sync"
	"sync/atomic"
	"time"
)

const memShards = 32

type memShard struct {
	mu      sync.Mutex
	entries map[string]*domain.Entry
}

// Memory is an in-process store. Entries are spread over shards by id hash and
// every operation on an id runs under its shard lock.
type Memory struct {
	shards [memShards]memShard
	ids    IDSource
	now    Clock
	closed atomic.Bool
}

func NewMemory(ids IDSource, now Clock) *Memory {
	if now == nil {
		now = time.Now
	}
	m := &Memory{ids: ids, now: now}
	for i := range m.shards {
		m.shards[i].entries = make(map[string]*domain.Entry)
	}
	return m
}
func (m *Memory) shard(id string) *memShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &m.shards[h.Sum32()%memShards]
}
func (m *Memory) Insert(ctx context.Context, e *domain.Entry) (string, error) {
	if m.closed.Load() {
		return "", ErrClosed
	}
	if err := validateEntry(e); err != nil {
		return "", err
	}
	return insertWithFreshID(ctx, m.ids, func(id string) error {
		s := m.shard(id)
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, exists := s.entries[id]; exists {
			return ErrIDTaken
		}
		stored := e.Clone()
		stored.ID = id
		stored.Views = 0
		s.entries[id] = stored
		return nil
	})
}
func (m *Memory) Resolve(ctx context.Context, id string) (*domain.Entry, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := m.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if e.ExpiredAt(m.now()) {
		delete(s.entries, id)
		return nil, domain.ErrNotFound
	}
	e.Views++
	return e.Clone(), nil
}
func (m *Memory) SweepExpired(ctx context.Context) (int, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	now := m.now()
	removed := 0
	for i := range m.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		s := &m.shards[i]
		s.mu.Lock()
		for id, e := range s.entries {
			if e.ExpiredAt(now) {
				delete(s.entries, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed, nil
}

// Len counts stored entries, expired-but-unswept ones included.
func (m *Memory) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}
func (m *Memory) Ping(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return nil
}
func (m *Memory) Close() error {
	m.closed.Store(true)
	return nil
}
