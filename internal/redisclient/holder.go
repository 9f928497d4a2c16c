package redisclient

import (
	"sync"

	"github.com/redis/go-redis/v9"
)

// Holder hands out the current client and lets the health loop swap in a
// replacement without the rest of the service noticing. Callers must not
// cache the result of Get across retries; fetch it per operation so a
// reconnect takes effect.
type Holder struct {
	mu      sync.RWMutex
	current redis.UniversalClient
}

func NewHolder(initial redis.UniversalClient) *Holder {
	return &Holder{current: initial}
}

func (h *Holder) Get() redis.UniversalClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// swap installs the replacement and returns the displaced client so the
// health loop can close it.
func (h *Holder) swap(next redis.UniversalClient) redis.UniversalClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.current
	h.current = next
	return old
}

// Close closes the current client. It stays installed so in-flight
// callers holding it fail with a closed-client error instead of a nil
// dereference.
func (h *Holder) Close() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.current == nil {
		return nil
	}
	return h.current.Close()
}
