package resilience

import (
	"sort"
	"sync"
	"time"
)

// Registry hands out one breaker per key, typically a remote host.
type Registry struct {
	maxFailures int
	timeout     time.Duration

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry whose breakers share the same settings.
func NewRegistry(maxFailures int, timeout time.Duration) *Registry {
	return &Registry{
		maxFailures: maxFailures,
		timeout:     timeout,
		breakers:    make(map[string]*Breaker),
	}
}

// For returns the breaker for key, creating it on first use.
func (r *Registry) For(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[key]
	if !ok {
		b = NewBreaker(r.maxFailures, r.timeout)
		r.breakers[key] = b
	}
	return b
}

// States reports the state of every known breaker, sorted by key.
func (r *Registry) States() []KeyState {
	r.mu.Lock()
	keys := make([]string, 0, len(r.breakers))
	for k := range r.breakers {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	sort.Strings(keys)

	out := make([]KeyState, 0, len(keys))
	for _, k := range keys {
		out = append(out, KeyState{Key: k, State: r.For(k).State()})
	}
	return out
}

// KeyState pairs a registry key with its breaker state.
type KeyState struct {
	Key   string `json:"key"`
	State State  `json:"state"`
}
