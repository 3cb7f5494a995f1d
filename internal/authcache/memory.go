package authcache

import (
	"context"
	"strings"
	"time"

	"github.com/TwiN/gocache/v2"

	"github.com/go-oidfed/frontdoor/middleware/basicauth"
)

// DefaultMaxSize is the default number of entries of a MemoryBackend
const DefaultMaxSize = 10000

// MemoryBackend is an in-process Backend
type MemoryBackend struct {
	cache *gocache.Cache
}

// NewMemoryBackend returns a MemoryBackend holding up to maxSize entries
func NewMemoryBackend(maxSize int) *MemoryBackend {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := gocache.NewCache().WithMaxSize(maxSize).WithEvictionPolicy(gocache.LeastRecentlyUsed)
	_ = c.StartJanitor()
	return &MemoryBackend{cache: c}
}

// Get implements the Backend interface
func (m *MemoryBackend) Get(_ context.Context, key string) (*basicauth.Principal, bool, error) {
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	p, ok := v.(*basicauth.Principal)
	return p, ok, nil
}

// Set implements the Backend interface
func (m *MemoryBackend) Set(_ context.Context, key string, p *basicauth.Principal, ttl time.Duration) error {
	m.cache.SetWithTTL(key, p, ttl)
	return nil
}

// DeletePrefix implements the Backend interface
func (m *MemoryBackend) DeletePrefix(_ context.Context, prefix string) error {
	for _, k := range m.cache.GetKeysByPattern(prefix+"*", 0) {
		if strings.HasPrefix(k, prefix) {
			m.cache.Delete(k)
		}
	}
	return nil
}

// Close implements the Backend interface
func (m *MemoryBackend) Close() error {
	m.cache.StopJanitor()
	return nil
}
