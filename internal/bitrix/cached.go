package bitrix

import (
	"context"
	"strings"
	"sync"
	"time"
)

// cachedTransport memoizes read call results in process for a short TTL.
// Only read methods are cached; writes always pass through and do not
// invalidate, so the TTL should stay small.
type cachedTransport struct {
	next Transport
	ttl  time.Duration

	mu      sync.Mutex
	entries map[string]cachedEntry
}

type cachedEntry struct {
	response Response
	storedAt time.Time
}

// NewCachedTransport wraps next with read-call memoization. A zero or
// negative ttl disables caching.
func NewCachedTransport(next Transport, ttl time.Duration) Transport {
	if ttl <= 0 {
		return next
	}
	return &cachedTransport{
		next:    next,
		ttl:     ttl,
		entries: make(map[string]cachedEntry),
	}
}

func (t *cachedTransport) Call(ctx context.Context, method string, params map[string]any) (Response, error) {
	if !cacheableMethod(method) {
		return t.next.Call(ctx, method, params)
	}
	key := method + "?" + encodeQuery(params)

	t.mu.Lock()
	entry, ok := t.entries[key]
	t.mu.Unlock()
	if ok && time.Since(entry.storedAt) < t.ttl {
		return entry.response, nil
	}

	resp, err := t.next.Call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.entries[key] = cachedEntry{response: resp, storedAt: time.Now()}
	t.mu.Unlock()
	return resp, nil
}

func cacheableMethod(method string) bool {
	for _, suffix := range []string{".list", ".get", ".fields", ".search", ".current"} {
		if strings.HasSuffix(method, suffix) {
			return true
		}
	}
	return false
}
