package ttcom

import (
	"sync"

	"github.com/masonasons/TTCom-Fork/tt"
)

// Registry holds the configured server sessions in configuration order.
type Registry struct {
	mu      sync.Mutex
	order   []string
	servers map[string]*tt.Server
}

func NewRegistry() *Registry {
	return &Registry{servers: map[string]*tt.Server{}}
}

// Add registers a session under its shortname, replacing (and stopping)
// any session already there.
func (r *Registry) Add(s *tt.Server) {
	r.mu.Lock()
	old, existed := r.servers[s.Shortname]
	r.servers[s.Shortname] = s
	if !existed {
		r.order = append(r.order, s.Shortname)
	}
	r.mu.Unlock()
	if existed && old != s {
		old.Terminate()
	}
}

// Remove stops and drops a session.
func (r *Registry) Remove(shortname string) {
	r.mu.Lock()
	s, ok := r.servers[shortname]
	if ok {
		delete(r.servers, shortname)
		for i, n := range r.order {
			if n == shortname {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if ok {
		s.Terminate()
	}
}

// Get returns the session under shortname, or nil.
func (r *Registry) Get(shortname string) *tt.Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.servers[shortname]
}

// Shortnames returns the configured names in configuration order.
func (r *Registry) Shortnames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns the sessions in configuration order.
func (r *Registry) All() []*tt.Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*tt.Server, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.servers[n])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
