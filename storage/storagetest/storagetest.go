// Package storagetest provides a conformance suite for storage.Adapter
// implementations, in the same spirit as the teacher project's storage
// conformance harness: one RunSuite entry point, run once per backing
// implementation, rather than duplicating the same assertions in every
// adapter's own test file.
package storagetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/storagefabric/fabric/storage"
)

// RunSuite exercises the universal invariants spec.md §8 lists against any
// storage.Adapter implementation. newAdapter must return a fresh, empty
// adapter; it is called once per subtest.
func RunSuite(t *testing.T, newAdapter func(t *testing.T) storage.Adapter) {
	t.Run("SetGetRoundTrip", func(t *testing.T) { testRoundTrip(t, newAdapter(t)) })
	t.Run("GetMissingIsNotFound", func(t *testing.T) { testGetMissing(t, newAdapter(t)) })
	t.Run("DeleteThenHasIsFalse", func(t *testing.T) { testDelete(t, newAdapter(t)) })
	t.Run("ClearCollectionZerosSize", func(t *testing.T) { testClearCollection(t, newAdapter(t)) })
	t.Run("ClearAllZerosEveryCollection", func(t *testing.T) { testClearAll(t, newAdapter(t)) })
	t.Run("KeysStripsPrefixAndCollection", func(t *testing.T) { testKeys(t, newAdapter(t)) })
	t.Run("SetEmitsLocalEvent", func(t *testing.T) { testSetEvent(t, newAdapter(t)) })
}

// RunSchemaSuite exercises spec.md §8 S6: a schema-registered (collection,
// key) rejects an invalid value without writing it. newAdapter must return
// an adapter that validates "c"/"k" against a schema requiring a "message"
// string field.
func RunSchemaSuite(t *testing.T, newAdapter func(t *testing.T) storage.Adapter) {
	t.Run("InvalidValueRejectedWithoutWrite", func(t *testing.T) {
		a := newAdapter(t)
		ctx := context.Background()

		err := a.Set(ctx, "c", "k", map[string]interface{}{"message": 42})
		require.Error(t, err)

		_, found, err := a.Get(ctx, "c", "k")
		require.NoError(t, err)
		require.False(t, found, "rejected value must not be written")
	})
}

func testRoundTrip(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	require.NoError(t, a.Set(ctx, "c", "k", map[string]interface{}{"hello": "world"}))

	got, found, err := a.Get(ctx, "c", "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, map[string]interface{}{"hello": "world"}, got)
}

func testGetMissing(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	got, found, err := a.Get(ctx, "c", "nope")
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, got)
}

func testDelete(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	require.NoError(t, a.Set(ctx, "c", "k", "v"))

	removed, err := a.Delete(ctx, "c", "k")
	require.NoError(t, err)
	require.True(t, removed)

	has, err := a.Has(ctx, "c", "k")
	require.NoError(t, err)
	require.False(t, has)

	keys, err := a.Keys(ctx, "c")
	require.NoError(t, err)
	require.NotContains(t, keys, "k")

	removedAgain, err := a.Delete(ctx, "c", "k")
	require.NoError(t, err)
	require.False(t, removedAgain)
}

func testClearCollection(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	require.NoError(t, a.Set(ctx, "c", "a", 1))
	require.NoError(t, a.Set(ctx, "c", "b", 2))

	count, err := a.Clear(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	size, err := a.Size(ctx, "c")
	require.NoError(t, err)
	require.Zero(t, size)
}

func testClearAll(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	require.NoError(t, a.Set(ctx, "c1", "a", 1))
	require.NoError(t, a.Set(ctx, "c2", "b", 2))

	_, err := a.Clear(ctx, "")
	require.NoError(t, err)

	size, err := a.Size(ctx, "")
	require.NoError(t, err)
	require.Zero(t, size)
}

func testKeys(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	require.NoError(t, a.Set(ctx, "c", "alpha", 1))
	require.NoError(t, a.Set(ctx, "c", "beta", 2))

	keys, err := a.Keys(ctx, "c")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alpha", "beta"}, keys)
}

func testSetEvent(t *testing.T, a storage.Adapter) {
	events := make(chan storage.Event, 1)
	unsubscribe := a.On(storage.EventSet, func(ev storage.Event) { events <- ev })
	defer unsubscribe()

	require.NoError(t, a.Set(context.Background(), "c", "k", "v"))

	select {
	case ev := <-events:
		require.Equal(t, "c", ev.Collection)
		require.Equal(t, "k", ev.Key)
		require.Equal(t, "v", ev.Value)
	default:
		t.Fatal("expected a set event to be emitted synchronously")
	}
}

