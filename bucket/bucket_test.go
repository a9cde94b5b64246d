package bucket

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/storagefabric/fabric/pkg/log"
	"github.com/storagefabric/fabric/storage"
)

func TestTenantIDIsDeterministic(t *testing.T) {
	a := TenantID("meow moew meow")
	b := TenantID("meow moew meow")
	require.Equal(t, a, b)
}

func TestTenantIDDiffersAcrossTokens(t *testing.T) {
	require.NotEqual(t, TenantID("alpha"), TenantID("beta"))
}

// newTestManager requires FABRIC_REDIS_ADDR, mirroring the redisns
// conformance suite: these tests exercise real SETNX/GC races against a
// live Redis rather than a fake.
func newTestManager(t *testing.T) (*Manager, redisv8.UniversalClient) {
	addr := os.Getenv("FABRIC_REDIS_ADDR")
	if addr == "" {
		t.Skip("FABRIC_REDIS_ADDR not set, skipping bucket integration test")
	}
	db := redisv8.NewUniversalClient(&redisv8.UniversalOptions{Addrs: []string{addr}})
	return New(db, log.NewSlogLogger(slog.Default())), db
}

func TestEnsureUserBucketLosesRaceReturnsAlreadyExistsInternally(t *testing.T) {
	m, db := newTestManager(t)
	ctx := context.Background()
	token := "race-test-token"
	tenantID := TenantID(token)
	defer db.Del(ctx, userMetadataPrefix+tenantID)
	defer db.SRem(ctx, allUsersKey, tenantID)

	winner := Metadata{UserID: tenantID, CreatedAt: time.Now(), LastAccessedAt: time.Now(), IsActive: true}
	err := m.persistMetadataIfAbsent(ctx, tenantID, winner)
	require.NoError(t, err)

	err = m.persistMetadataIfAbsent(ctx, tenantID, winner)
	require.True(t, errors.Is(err, storage.ErrAlreadyExists))

	loaded, err := m.loadMetadata(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, tenantID, loaded.UserID)
}

func TestRunGCEvictsIdleTenant(t *testing.T) {
	m, db := newTestManager(t)
	ctx := context.Background()
	token := "gc-test-token"
	defer func() {
		tenantID := TenantID(token)
		db.Del(ctx, userMetadataPrefix+tenantID)
		db.SRem(ctx, allUsersKey, tenantID)
	}()

	_, err := m.EnsureUserBucket(ctx, token)
	require.NoError(t, err)

	tenantID := TenantID(token)
	m.mu.Lock()
	md := m.metadata[tenantID]
	md.LastAccessedAt = time.Now().Add(-time.Hour)
	m.metadata[tenantID] = md
	m.mu.Unlock()

	m.sweepIdleTenants(time.Minute)

	md, ok := m.GetUserMetadata(tenantID)
	require.True(t, ok)
	require.False(t, md.IsActive)

	_, ok = m.GetUserBucket(tenantID)
	require.False(t, ok)
}
