package cache

import (
	"container/list"
	"sync"
	"time"
)

const (
	DefaultMaxEntries    = 1024
	DefaultSweepInterval = time.Minute
)

type memoryEntry struct {
	key       string
	payload   []byte
	storedAt  time.Time
	expiresAt time.Time
}

// Memory is the in-process LRU tier. Entries expire by TTL; a background
// sweep reclaims expired entries that are never read again.
type Memory struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[string]*list.Element
	order      *list.List // front = most recently used
	now        func() time.Time
	stopSweep  chan struct{}
	stopOnce   sync.Once
}

// NewMemory creates the memory tier and starts its TTL sweep.
// sweepInterval <= 0 disables the background sweep (lazy expiry only).
func NewMemory(maxEntries int, sweepInterval time.Duration) *Memory {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	m := &Memory{
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		now:        time.Now,
		stopSweep:  make(chan struct{}),
	}
	if sweepInterval > 0 {
		go m.sweepLoop(sweepInterval)
	}
	return m
}

// Get returns the payload and its age, touching the entry as most recent
func (m *Memory) Get(key string) ([]byte, time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		return nil, 0, false
	}

	entry := el.Value.(*memoryEntry)
	now := m.now()
	if now.After(entry.expiresAt) {
		m.removeLocked(el)
		return nil, 0, false
	}

	m.order.MoveToFront(el)
	return entry.payload, now.Sub(entry.storedAt), true
}

// Put stores the payload with the given TTL, evicting the LRU tail if full
func (m *Memory) Put(key string, payload []byte, ttl time.Duration) {
	m.PutWithAge(key, payload, ttl, 0)
}

// PutWithAge stores a payload that is already age old, so its reported age
// stays continuous when promoted from the persistent tier.
func (m *Memory) PutWithAge(key string, payload []byte, ttl, age time.Duration) {
	if ttl <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if el, ok := m.entries[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.payload = payload
		entry.storedAt = now.Add(-age)
		entry.expiresAt = now.Add(ttl)
		m.order.MoveToFront(el)
		return
	}

	el := m.order.PushFront(&memoryEntry{
		key:       key,
		payload:   payload,
		storedAt:  now.Add(-age),
		expiresAt: now.Add(ttl),
	})
	m.entries[key] = el

	for len(m.entries) > m.maxEntries {
		tail := m.order.Back()
		if tail == nil {
			break
		}
		m.removeLocked(tail)
	}
}

// Invalidate removes the key
func (m *Memory) Invalidate(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.entries[key]; ok {
		m.removeLocked(el)
	}
}

// Len returns the current entry count
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Stop terminates the sweep goroutine
func (m *Memory) Stop() {
	m.stopOnce.Do(func() { close(m.stopSweep) })
}

func (m *Memory) removeLocked(el *list.Element) {
	entry := el.Value.(*memoryEntry)
	m.order.Remove(el)
	delete(m.entries, entry.key)
}

func (m *Memory) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweepExpired()
		case <-m.stopSweep:
			return
		}
	}
}

func (m *Memory) sweepExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for el := m.order.Back(); el != nil; {
		prev := el.Prev()
		if entry := el.Value.(*memoryEntry); now.After(entry.expiresAt) {
			m.removeLocked(el)
		}
		el = prev
	}
}
