package cache

import (
	"sync"
	"time"
)

const defaultSweepInterval = 5 * time.Minute

type ttlItem[V any] struct {
	value     V
	expiresAt time.Time
}

// ttlStore is the process-local backing of the in-memory fallbacks.
// A background sweeper drops expired keys until close is called.
type ttlStore[V any] struct {
	mu    sync.Mutex
	items map[string]ttlItem[V]
	now   func() time.Time

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newTTLStore[V any](sweepEvery time.Duration) *ttlStore[V] {
	s := &ttlStore[V]{
		items: make(map[string]ttlItem[V]),
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.sweepLoop(sweepEvery)
	return s
}

func (s *ttlStore[V]) live(key string) (ttlItem[V], bool) {
	it, ok := s.items[key]
	if !ok || !s.now().Before(it.expiresAt) {
		return it, false
	}
	return it, true
}

func (s *ttlStore[V]) get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.live(key)
	return it.value, ok
}

func (s *ttlStore[V]) set(key string, v V, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = ttlItem[V]{value: v, expiresAt: s.now().Add(ttl)}
}

// setNX stores v only when key is absent or expired and reports whether it did
func (s *ttlStore[V]) setNX(key string, v V, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return false
	}
	s.items[key] = ttlItem[V]{value: v, expiresAt: s.now().Add(ttl)}
	return true
}

// update replaces the value of key with fn(current). A new or expired key starts
// from the zero value and gets ttl; a live key keeps its expiry.
func (s *ttlStore[V]) update(key string, ttl time.Duration, fn func(V) V) V {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.live(key)
	if !ok {
		var zero V
		it = ttlItem[V]{value: zero, expiresAt: s.now().Add(ttl)}
	}
	it.value = fn(it.value)
	s.items[key] = it
	return it.value
}

// touch is update that also restarts the expiry of a live key
func (s *ttlStore[V]) touch(key string, ttl time.Duration, fn func(V) V) V {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current V
	if it, ok := s.live(key); ok {
		current = it.value
	}
	next := fn(current)
	s.items[key] = ttlItem[V]{value: next, expiresAt: s.now().Add(ttl)}
	return next
}

// view calls fn with the live value of key under the store lock
func (s *ttlStore[V]) view(key string, fn func(V, bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.live(key)
	fn(it.value, ok)
}

func (s *ttlStore[V]) delete(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.items, k)
	}
}

func (s *ttlStore[V]) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, it := range s.items {
		if !now.Before(it.expiresAt) {
			delete(s.items, k)
		}
	}
}

func (s *ttlStore[V]) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *ttlStore[V]) sweepLoop(every time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// close stops the sweeper; safe to call more than once
func (s *ttlStore[V]) close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
	})
}
