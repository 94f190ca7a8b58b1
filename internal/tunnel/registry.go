package tunnel

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry tracks the open tunnels of a gateway process. Tunnels left
// untouched past the idle deadline are evicted and closed by a
// background janitor; administrative removal goes through Remove.
type Registry struct {
	idleAfter time.Duration

	mu      sync.RWMutex
	entries map[uuid.UUID]*registryEntry

	stop     chan struct{}
	stopOnce sync.Once
}

type registryEntry struct {
	t          Tunnel
	lastAccess time.Time
}

// NewRegistry returns a registry evicting tunnels idle longer than
// idleAfter, checked every sweepEvery. An idleAfter of zero disables
// eviction entirely; a sweepEvery of zero checks once a minute.
func NewRegistry(idleAfter, sweepEvery time.Duration) *Registry {
	r := &Registry{
		idleAfter: idleAfter,
		entries:   make(map[uuid.UUID]*registryEntry),
		stop:      make(chan struct{}),
	}
	if idleAfter > 0 {
		if sweepEvery <= 0 {
			sweepEvery = time.Minute
		}
		go r.janitor(sweepEvery)
	}
	return r
}

// Add registers a tunnel under its UUID.
func (r *Registry) Add(t Tunnel) {
	r.mu.Lock()
	r.entries[t.UUID()] = &registryEntry{t: t, lastAccess: time.Now()}
	r.mu.Unlock()
}

// Get returns the tunnel for id, or nil. A hit counts as activity and
// resets the idle clock.
func (r *Registry) Get(id uuid.UUID) Tunnel {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil
	}
	e.lastAccess = time.Now()
	return e.t
}

// Remove unregisters and returns the tunnel for id, or nil. The caller
// owns closing it.
func (r *Registry) Remove(id uuid.UUID) Tunnel {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil
	}
	delete(r.entries, id)
	return e.t
}

// Len reports how many tunnels are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close stops the janitor and closes every remaining tunnel.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })

	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[uuid.UUID]*registryEntry)
	r.mu.Unlock()

	for _, e := range entries {
		if err := e.t.Close(); err != nil {
			log.Printf("Tunnel %s close: %v", e.t.UUID(), err)
		}
	}
}

func (r *Registry) janitor(sweepEvery time.Duration) {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}

// sweep evicts every tunnel idle past the deadline. Closing happens
// outside the lock; Close on a live tunnel can block on I/O.
func (r *Registry) sweep(now time.Time) {
	var expired []Tunnel
	r.mu.Lock()
	for id, e := range r.entries {
		if now.Sub(e.lastAccess) > r.idleAfter {
			delete(r.entries, id)
			expired = append(expired, e.t)
		}
	}
	r.mu.Unlock()

	for _, t := range expired {
		log.Printf("Evicting tunnel %s after %s idle", t.UUID(), r.idleAfter)
		if err := t.Close(); err != nil {
			log.Printf("Evicted tunnel close: %v", err)
		}
	}
}
