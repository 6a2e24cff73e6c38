package cache

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"
)

const memoryShards = 16

// Memory is an in-process Cache sharded across mutex-guarded segments.
// Entries expire lazily on access plus a periodic sweep, so an idle process
// does not hold dead windows forever.
type Memory struct {
	shards [memoryShards]*memoryShard
	clock  func() time.Time

	sweepOnce sync.Once
	stopSweep chan struct{}
}

type memoryShard struct {
	mu       sync.Mutex
	values   map[string]memoryValue
	counters map[string]memoryCounter
	locks    map[string]memoryLock
}

type memoryValue struct {
	data      []byte
	expiresAt time.Time // zero = no expiry
}

type memoryCounter struct {
	n         int64
	expiresAt time.Time
}

type memoryLock struct {
	owner     string
	expiresAt time.Time
}

// NewMemory creates an in-process cache.
func NewMemory() *Memory {
	m := &Memory{clock: time.Now, stopSweep: make(chan struct{})}
	for i := range m.shards {
		m.shards[i] = &memoryShard{
			values:   make(map[string]memoryValue),
			counters: make(map[string]memoryCounter),
			locks:    make(map[string]memoryLock),
		}
	}
	return m
}

// NewMemoryWithClock creates an in-process cache with an injected clock.
// Tests use this to advance TTL windows without sleeping.
func NewMemoryWithClock(clock func() time.Time) *Memory {
	m := NewMemory()
	m.clock = clock
	return m
}

// StartSweeper launches the periodic expired-entry sweep. Safe to call once;
// Close stops it.
func (m *Memory) StartSweeper(interval time.Duration) {
	m.sweepOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					m.sweep()
				case <-m.stopSweep:
					return
				}
			}
		}()
	})
}

// Close stops the sweeper if running.
func (m *Memory) Close() {
	select {
	case <-m.stopSweep:
	default:
		close(m.stopSweep)
	}
}

func (m *Memory) shard(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%memoryShards]
}

func expired(at, now time.Time) bool {
	return !at.IsZero() && now.After(at)
}

// GetJSON implements Cache.
func (m *Memory) GetJSON(_ context.Context, key string, out any) (bool, error) {
	now := m.clock()
	s := m.shard(key)
	s.mu.Lock()
	v, ok := s.values[key]
	if ok && expired(v.expiresAt, now) {
		delete(s.values, key)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(v.data, out); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON implements Cache.
func (m *Memory) SetJSON(_ context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var exp time.Time
	if ttl > 0 {
		exp = m.clock().Add(ttl)
	}
	s := m.shard(key)
	s.mu.Lock()
	s.values[key] = memoryValue{data: data, expiresAt: exp}
	s.mu.Unlock()
	return nil
}

// Increment implements Cache. The window TTL is fixed when the counter is
// created and not extended by later increments, matching Redis INCR+EXPIRE NX.
func (m *Memory) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := m.clock()
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[key]
	if !ok || expired(c.expiresAt, now) {
		c = memoryCounter{n: 0, expiresAt: now.Add(ttl)}
	}
	c.n++
	s.counters[key] = c
	return c.n, nil
}

// AcquireLock implements Cache with SET NX semantics: a held lock is not
// re-acquirable, not even by its owner.
func (m *Memory) AcquireLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	now := m.clock()
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[key]; ok && !expired(l.expiresAt, now) {
		return false, nil
	}
	s.locks[key] = memoryLock{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

// ReleaseLock implements Cache.
func (m *Memory) ReleaseLock(_ context.Context, key, owner string) error {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[key]; ok && l.owner == owner {
		delete(s.locks, key)
	}
	return nil
}

func (m *Memory) sweep() {
	now := m.clock()
	for _, s := range m.shards {
		s.mu.Lock()
		for k, v := range s.values {
			if expired(v.expiresAt, now) {
				delete(s.values, k)
			}
		}
		for k, c := range s.counters {
			if expired(c.expiresAt, now) {
				delete(s.counters, k)
			}
		}
		for k, l := range s.locks {
			if expired(l.expiresAt, now) {
				delete(s.locks, k)
			}
		}
		s.mu.Unlock()
	}
}

var _ Cache = (*Memory)(nil)
