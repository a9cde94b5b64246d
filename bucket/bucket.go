// Package bucket maps client tokens to isolated storage.Adapter instances
// backed by Redis, and keeps the durable index of every known tenant. It is
// the Go counterpart of spec.md §4.2 (component C).
package bucket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	redisv8 "github.com/go-redis/redis/v8"

	"github.com/storagefabric/fabric/pkg/log"
	"github.com/storagefabric/fabric/storage"
	"github.com/storagefabric/fabric/storage/redisns"
)

// ErrUnknownTenant is returned by callers that look up a tenant-id with no
// corresponding metadata record.
var ErrUnknownTenant = errors.New("bucket: unknown tenant")

const (
	allUsersKey        = "all_users"
	userMetadataPrefix = "user_metadata:"
	userDataPrefix     = "user_data:"
)

// Metadata describes a tenant; it is persisted as JSON under
// user_metadata:{tenant-id} and round-tripped on every access.
type Metadata struct {
	UserID         string    `json:"userId"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	IsActive       bool      `json:"isActive"`
}

// TenantID derives the deterministic, non-cryptographic tenant identity for
// token. This is a pure function of the token, used only as a storage-key
// prefix — authentication is the server handshake's job, not this
// derivation's (see spec.md §4.2, §9 on the two identity derivations).
func TenantID(token string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(token))
	return fmt.Sprintf("user_%x", h.Sum64())
}

// Manager owns the token → tenant-id → storage.Adapter mapping and the
// durable tenant index. A single Manager's Redis client is shared by every
// Adapter it produces.
type Manager struct {
	db     redisv8.UniversalClient
	logger log.Logger

	mu       sync.RWMutex
	metadata map[string]Metadata
	adapters map[string]*redisns.Adapter
}

// New returns a Manager backed by db. Call Initialize before serving
// traffic to hydrate the in-memory metadata cache from the durable index.
func New(db redisv8.UniversalClient, logger log.Logger) *Manager {
	return &Manager{
		db:       db,
		logger:   logger,
		metadata: make(map[string]Metadata),
		adapters: make(map[string]*redisns.Adapter),
	}
}

// Initialize loads every tenant-id from the all_users index and hydrates
// the metadata cache. A tenant whose stored metadata fails to decode is
// logged and skipped rather than treated as a hard failure, since one
// corrupt record should not keep the whole fleet from starting.
func (m *Manager) Initialize(ctx context.Context) error {
	ids, err := m.db.SMembers(ctx, allUsersKey).Result()
	if err != nil {
		return fmt.Errorf("bucket: load tenant index: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		raw, err := m.db.Get(ctx, userMetadataPrefix+id).Result()
		if err != nil {
			m.logger.Warnf("bucket: tenant %s listed in index but metadata missing: %v", id, err)
			continue
		}
		var md Metadata
		if err := json.Unmarshal([]byte(raw), &md); err != nil {
			m.logger.Warnf("bucket: tenant %s has malformed metadata, skipping: %v", id, err)
			continue
		}
		m.metadata[id] = md
	}
	return nil
}

// EnsureUserBucket returns the Adapter for token's tenant, creating the
// tenant's metadata record and Adapter if this token has never been seen,
// and updating LastAccessedAt either way.
func (m *Manager) EnsureUserBucket(ctx context.Context, token string) (storage.Adapter, error) {
	tenantID := TenantID(token)

	m.mu.Lock()
	defer m.mu.Unlock()

	adapter := m.adapters[tenantID]
	_, exists := m.metadata[tenantID]
	now := time.Now()

	if !exists {
		md := Metadata{UserID: tenantID, CreatedAt: now, LastAccessedAt: now, IsActive: true}
		if err := m.persistMetadataIfAbsent(ctx, tenantID, md); err != nil {
			if !errors.Is(err, storage.ErrAlreadyExists) {
				return nil, err
			}
			// Lost the race to another fabricd process sharing this
			// Redis instance: the tenant was created concurrently, so
			// load what they wrote instead of failing this handshake.
			existing, loadErr := m.loadMetadata(ctx, tenantID)
			if loadErr != nil {
				return nil, loadErr
			}
			md = existing
			md.LastAccessedAt = now
			md.IsActive = true
			if err := m.persistMetadata(ctx, tenantID, md); err != nil {
				return nil, err
			}
		}
		if err := m.db.SAdd(ctx, allUsersKey, tenantID).Err(); err != nil {
			return nil, fmt.Errorf("bucket: index tenant %s: %w", tenantID, err)
		}
		m.metadata[tenantID] = md

		adapter = redisns.New(m.db, userDataPrefix+tenantID, nil)
		m.adapters[tenantID] = adapter
		return adapter, nil
	}

	md := m.metadata[tenantID]
	md.LastAccessedAt = now
	md.IsActive = true
	if err := m.persistMetadata(ctx, tenantID, md); err != nil {
		return nil, err
	}
	m.metadata[tenantID] = md

	if adapter == nil {
		// RunGC evicted the Adapter for this tenant; its metadata and
		// durable data survived, so just rehydrate the Adapter.
		adapter = redisns.New(m.db, userDataPrefix+tenantID, nil)
		m.adapters[tenantID] = adapter
	}
	return adapter, nil
}

// GetUserBucket returns the tenant's Adapter only if it already exists; it
// never creates one.
func (m *Manager) GetUserBucket(tenantID string) (storage.Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	adapter, ok := m.adapters[tenantID]
	return adapter, ok
}

// GetUserMetadata returns the cached metadata for tenantID.
func (m *Manager) GetUserMetadata(tenantID string) (Metadata, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	md, ok := m.metadata[tenantID]
	return md, ok
}

// ListTenants returns every known tenant-id and its metadata.
func (m *Manager) ListTenants() map[string]Metadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Metadata, len(m.metadata))
	for id, md := range m.metadata {
		out[id] = md
	}
	return out
}

// DeleteUserBucket clears the tenant's data, removes its metadata and index
// entry, and evicts it from the cache.
func (m *Manager) DeleteUserBucket(ctx context.Context, tenantID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.metadata[tenantID]; !ok {
		return false, nil
	}

	adapter, ok := m.adapters[tenantID]
	if !ok {
		// No cached Adapter (evicted by RunGC, or not opened since startup):
		// open one to reach the tenant's durable data.
		adapter = redisns.New(m.db, userDataPrefix+tenantID, nil)
	}
	if _, err := adapter.Clear(ctx, ""); err != nil {
		return false, fmt.Errorf("bucket: clear tenant %s data: %w", tenantID, err)
	}
	_ = adapter.Close()
	delete(m.adapters, tenantID)

	if err := m.db.Del(ctx, userMetadataPrefix+tenantID).Err(); err != nil {
		return false, fmt.Errorf("bucket: delete tenant %s metadata: %w", tenantID, err)
	}
	if err := m.db.SRem(ctx, allUsersKey, tenantID).Err(); err != nil {
		return false, fmt.Errorf("bucket: unindex tenant %s: %w", tenantID, err)
	}
	delete(m.metadata, tenantID)
	return true, nil
}

// DefaultGCInterval and DefaultIdleThreshold control RunGC's default sweep
// cadence and the inactivity window after which a tenant is marked inactive
// and its in-memory Adapter is evicted. Durable data is untouched: the next
// EnsureUserBucket for that token simply rehydrates a fresh Adapter and
// flips IsActive back to true.
const (
	DefaultGCInterval    = 5 * time.Minute
	DefaultIdleThreshold = 30 * time.Minute
)

// RunGC sweeps the tenant cache every interval, marking any tenant not
// accessed within idleThreshold inactive and evicting its cached Adapter. It
// blocks until ctx is canceled, matching the teacher project's own
// background-ticker actors so it can be supervised as an oklog/run.Group
// actor alongside the HTTP/WS and telemetry listeners.
func (m *Manager) RunGC(ctx context.Context, interval, idleThreshold time.Duration) {
	if interval <= 0 {
		interval = DefaultGCInterval
	}
	if idleThreshold <= 0 {
		idleThreshold = DefaultIdleThreshold
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepIdleTenants(idleThreshold)
		}
	}
}

func (m *Manager) sweepIdleTenants(idleThreshold time.Duration) {
	cutoff := time.Now().Add(-idleThreshold)

	m.mu.Lock()
	defer m.mu.Unlock()

	for tenantID, md := range m.metadata {
		if !md.IsActive || !md.LastAccessedAt.Before(cutoff) {
			continue
		}
		md.IsActive = false
		m.metadata[tenantID] = md

		if adapter, ok := m.adapters[tenantID]; ok {
			_ = adapter.Close()
			delete(m.adapters, tenantID)
		}
		m.logger.Debugf("bucket: evicted idle tenant %s (idle since %s)", tenantID, md.LastAccessedAt)
	}
}

func (m *Manager) persistMetadata(ctx context.Context, tenantID string, md Metadata) error {
	encoded, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("bucket: encode metadata for %s: %w", tenantID, err)
	}
	if err := m.db.Set(ctx, userMetadataPrefix+tenantID, string(encoded), 0).Err(); err != nil {
		return fmt.Errorf("bucket: persist metadata for %s: %w", tenantID, err)
	}
	return nil
}

// persistMetadataIfAbsent writes md only if no metadata record already
// exists for tenantID, via Redis SETNX. It returns storage.ErrAlreadyExists
// (checkable with errors.Is) if another writer won the race.
func (m *Manager) persistMetadataIfAbsent(ctx context.Context, tenantID string, md Metadata) error {
	encoded, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("bucket: encode metadata for %s: %w", tenantID, err)
	}
	ok, err := m.db.SetNX(ctx, userMetadataPrefix+tenantID, string(encoded), 0).Result()
	if err != nil {
		return fmt.Errorf("bucket: persist metadata for %s: %w", tenantID, err)
	}
	if !ok {
		return fmt.Errorf("bucket: metadata for %s: %w", tenantID, storage.ErrAlreadyExists)
	}
	return nil
}

// loadMetadata reads and decodes the durable metadata record for tenantID.
func (m *Manager) loadMetadata(ctx context.Context, tenantID string) (Metadata, error) {
	raw, err := m.db.Get(ctx, userMetadataPrefix+tenantID).Result()
	if err != nil {
		return Metadata{}, fmt.Errorf("bucket: load metadata for %s: %w", tenantID, err)
	}
	var md Metadata
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return Metadata{}, fmt.Errorf("bucket: decode metadata for %s: %w", tenantID, err)
	}
	return md, nil
}
