package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/telephony"
)

const (
	// DefaultRegistrationTTL applies when a registration carries no expiry
	DefaultRegistrationTTL = 120 * time.Second
)

type registration struct {
	contacts []string
	expires  time.Time
	updated  time.Time
}

// RegistrationCache maps agent URIs to the device contacts they registered
type RegistrationCache struct {
	entries    map[string]*registration
	defaultTTL time.Duration
	mu         sync.RWMutex
}

var _ telephony.Registrar = (*RegistrationCache)(nil)

// NewRegistrationCache creates an empty registration cache
func NewRegistrationCache() *RegistrationCache {
	return &RegistrationCache{
		entries:    make(map[string]*registration),
		defaultTTL: DefaultRegistrationTTL,
	}
}

// SetDefaultTTL changes the expiry used for registrations without one
func (c *RegistrationCache) SetDefaultTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultTTL = ttl
}

// Register stores or refreshes the contacts of uri. A non-positive ttl uses
// the default expiry.
func (c *RegistrationCache) Register(uri string, contacts []string, ttl time.Duration) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.entries[uri] = &registration{
		contacts: append([]string(nil), contacts...),
		expires:  now.Add(ttl),
		updated:  now,
	}
}

// Unregister drops the registration of uri and reports whether one existed
func (c *RegistrationCache) Unregister(uri string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[uri]; !ok {
		return false
	}
	delete(c.entries, uri)
	return true
}

// ContactsFor returns the live contacts of uri. An expired or missing
// registration yields no contacts and no error.
func (c *RegistrationCache) ContactsFor(_ context.Context, uri string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	reg, ok := c.entries[uri]
	if !ok || !reg.expires.After(time.Now()) {
		return nil, nil
	}
	return append([]string(nil), reg.contacts...), nil
}

// ExpireStale removes registrations that lapsed before now and returns
// their URIs in order
func (c *RegistrationCache) ExpireStale(now time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []string
	for uri, reg := range c.entries {
		if !reg.expires.After(now) {
			delete(c.entries, uri)
			expired = append(expired, uri)
		}
	}
	sort.Strings(expired)
	return expired
}

// Run expires stale registrations every interval and reports each one to
// the listener until ctx is cancelled
func (c *RegistrationCache) Run(ctx context.Context, interval time.Duration, listener telephony.Listener) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, uri := range c.ExpireStale(now) {
				if listener != nil {
					listener.EntityUnregistered(uri)
				}
			}
		}
	}
}

// Count returns the number of tracked registrations
func (c *RegistrationCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns the registered URIs with their contacts
func (c *RegistrationCache) Snapshot() map[string][]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string][]string, len(c.entries))
	for uri, reg := range c.entries {
		out[uri] = append([]string(nil), reg.contacts...)
	}
	return out
}
