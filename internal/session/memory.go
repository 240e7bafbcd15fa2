package session

import (
	"context"
	"sync"
	"time"
)

// CleanupInterval is how often the background cleanup runs at most
const CleanupInterval = 30 * time.Second

type memorySession struct {
	data      map[string]any
	touchedAt time.Time
}

// MemoryBackend keeps every session in process memory.
// Sessions idle for longer than ttl are dropped; a zero ttl keeps them forever.
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	ttl      time.Duration
	now      func() time.Time

	stopCleanup chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

// NewMemoryBackend creates an in-memory backend
func NewMemoryBackend(ttl time.Duration) *MemoryBackend {
	b := &MemoryBackend{
		sessions:    make(map[string]*memorySession),
		ttl:         ttl,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	if ttl > 0 {
		b.wg.Add(1)
		go b.cleanupLoop(min(ttl, CleanupInterval))
	}

	return b
}

func (b *MemoryBackend) cleanupLoop(interval time.Duration) {
	defer b.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.expireSessions()
		case <-b.stopCleanup:
			return
		}
	}
}

func (b *MemoryBackend) expireSessions() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.sessions {
		if b.expired(s) {
			delete(b.sessions, id)
		}
	}
}

func (b *MemoryBackend) expired(s *memorySession) bool {
	return b.ttl > 0 && b.now().Sub(s.touchedAt) > b.ttl
}

// Session returns the store for one session id
func (b *MemoryBackend) Session(id string) Store {
	return &memoryStore{backend: b, id: id}
}

// Close stops the background cleanup and waits for it to finish
func (b *MemoryBackend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCleanup)
	})
	b.wg.Wait()
	return nil
}

// live returns the session data, or nil when the session is absent or expired.
// Caller must hold b.mu.
func (b *MemoryBackend) live(id string) *memorySession {
	s, ok := b.sessions[id]
	if !ok || b.expired(s) {
		return nil
	}
	return s
}

type memoryStore struct {
	backend *MemoryBackend
	id      string
}

func (m *memoryStore) Get(_ context.Context, path string, def any) (any, error) {
	segments, err := Split(path)
	if err != nil {
		return nil, err
	}

	m.backend.mu.RLock()
	defer m.backend.mu.RUnlock()

	s := m.backend.live(m.id)
	if s == nil {
		return def, nil
	}
	value, ok := lookup(s.data, segments)
	if !ok {
		return def, nil
	}
	return deepCopy(value), nil
}

func (m *memoryStore) Put(_ context.Context, path string, value any) error {
	segments, err := Split(path)
	if err != nil {
		return err
	}
	normalized, err := normalize(value)
	if err != nil {
		return err
	}

	m.backend.mu.Lock()
	defer m.backend.mu.Unlock()

	s := m.backend.live(m.id)
	if s == nil {
		s = &memorySession{data: map[string]any{}}
		m.backend.sessions[m.id] = s
	}
	assign(s.data, segments, normalized)
	s.touchedAt = m.backend.now()
	return nil
}

func (m *memoryStore) Forget(_ context.Context, path string) (bool, error) {
	segments, err := Split(path)
	if err != nil {
		return false, err
	}

	m.backend.mu.Lock()
	defer m.backend.mu.Unlock()

	s := m.backend.live(m.id)
	if s == nil {
		return false, nil
	}
	removed := remove(s.data, segments)
	if removed {
		s.touchedAt = m.backend.now()
	}
	return removed, nil
}
