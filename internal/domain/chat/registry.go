package chat

import (
	"sync"
	"time"

	"github.com/medscribe/medscribe/internal/platform/auth"
)

// Registry keeps one Manager per user and tenant so selection and the
// in-flight guard carry across requests. Managers idle longer than ttl are
// dropped on the next lookup.
type Registry struct {
	deps Deps
	ttl  time.Duration
	now  func() time.Time

	mu        sync.Mutex
	managers  map[string]*Manager
	lastSweep time.Time
}

func NewRegistry(deps Deps, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Registry{deps: deps, ttl: ttl, now: time.Now, managers: make(map[string]*Manager)}
}

// For returns the caller's Manager, creating it on first use.
func (r *Registry) For(tenantID string, id auth.Identity) *Manager {
	key := tenantID + "/" + id.UserID

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Sub(r.lastSweep) > r.ttl {
		r.sweep(now)
		r.lastSweep = now
	}

	m, ok := r.managers[key]
	if !ok {
		m = NewManager(r.deps, id)
		m.now = r.now
		m.lastUsed = now
		r.managers[key] = m
	}
	return m
}

func (r *Registry) sweep(now time.Time) {
	for k, m := range r.managers {
		if !m.Loading() && now.Sub(m.idleSince()) > r.ttl {
			delete(r.managers, k)
		}
	}
}

// Len returns the number of live managers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managers)
}
