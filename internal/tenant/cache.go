// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrTenantDisabled signals a tenant that exists but is marked disabled.
// Expected routing outcome, not a failure.
var ErrTenantDisabled = errors.New("tenant is disabled")

// DefaultCacheTTL bounds how stale a cached tenant config can be.
// Directory changes become visible within at most one TTL per process.
const DefaultCacheTTL = 5 * time.Minute

// cacheEntry pairs a config with its expiry. Entries are replaced whole,
// never mutated in place.
type cacheEntry struct {
	config    Config
	expiresAt time.Time
}

// Cache wraps a Directory with an in-process TTL cache. Safe for
// concurrent use by independently-initiated ingestions.
type Cache struct {
	dir Directory
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCache creates a tenant config cache over the given directory.
// A non-positive ttl falls back to DefaultCacheTTL.
func NewCache(dir Directory, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		dir:     dir,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the tenant config for a slug, serving from the cache while
// the entry is fresh. Returns (nil, nil) for an unknown tenant and
// ErrTenantDisabled for a disabled one — a disabled cached entry raises
// the error on every hit, not just the first.
func (c *Cache) Get(ctx context.Context, tenantSlug string) (*Config, error) {
	c.mu.RLock()
	entry, ok := c.entries[tenantSlug]
	c.mu.RUnlock()

	if ok && c.now().Before(entry.expiresAt) {
		slog.Debug("tenant config cache hit", "tenant", tenantSlug)
		return checkEnabled(entry.config)
	}

	slog.Info("fetching tenant config from directory", "tenant", tenantSlug)
	cfg, err := c.dir.Get(ctx, tenantSlug)
	if err != nil {
		return nil, fmt.Errorf("tenant directory lookup: %w", err)
	}
	if cfg == nil {
		slog.Warn("tenant not found in directory", "tenant", tenantSlug)
		return nil, nil
	}

	c.mu.Lock()
	c.entries[tenantSlug] = cacheEntry{config: *cfg, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return checkEnabled(*cfg)
}

// Flush drops all cached entries. Used for test isolation.
func (c *Cache) Flush() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

func checkEnabled(cfg Config) (*Config, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrTenantDisabled, cfg.TenantSlug)
	}
	return &cfg, nil
}
