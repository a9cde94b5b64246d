// Package redisns implements storage.Adapter over a single Redis keyspace,
// prefixed so that every key written by one Adapter instance is invisible to
// every other. It is grounded on the same go-redis usage and key-scan
// conventions the teacher project used for its own Redis-backed storage:
// plain GET/SET/DEL/EXISTS per key, and a KEYS pattern scan for enumeration.
package redisns

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	redisv8 "github.com/go-redis/redis/v8"

	"github.com/storagefabric/fabric/storage"
)

// Adapter implements storage.Adapter against a Redis-compatible client,
// namespacing every key under prefix. Collections are opaque segments of the
// key: {prefix}:{collection}:{key}.
type Adapter struct {
	db     redisv8.UniversalClient
	prefix string

	events *storage.Emitter
	schema *storage.SchemaRegistry

	closed bool
}

// New returns an Adapter that reads and writes only keys under prefix using
// db. schema may be nil (no validation performed).
func New(db redisv8.UniversalClient, prefix string, schema *storage.SchemaRegistry) *Adapter {
	if schema == nil {
		schema = storage.NewSchemaRegistry()
	}
	return &Adapter{
		db:     db,
		prefix: prefix,
		events: storage.NewEmitter(),
		schema: schema,
	}
}

func (a *Adapter) keyFor(collection, key string) string {
	return a.prefix + ":" + collection + ":" + key
}

func (a *Adapter) collectionPattern(collection string) string {
	if collection == "" {
		return a.prefix + ":*"
	}
	return a.prefix + ":" + collection + ":*"
}

// Get returns the stored value for (collection, key), applying the
// registered schema the same way Set does; a validation failure here is
// surfaced rather than swallowed because it indicates the stored value has
// been corrupted or the schema has changed incompatibly.
func (a *Adapter) Get(ctx context.Context, collection, key string) (interface{}, bool, error) {
	raw, err := a.db.Get(ctx, a.keyFor(collection, key)).Result()
	if err == redisv8.Nil {
		return nil, false, nil
	}
	if err != nil {
		a.emitError(err)
		return nil, false, fmt.Errorf("%w: %v", storage.ErrTransport, err)
	}

	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		verr := &storage.ValidationError{Collection: collection, Key: key, Reason: err.Error()}
		a.emitError(verr)
		return nil, true, verr
	}
	if err := storage.ValidateSchema(a.schema.Lookup(collection, key), collection, key, value); err != nil {
		a.emitError(err)
		return nil, true, err
	}

	a.events.Emit(storage.Event{Kind: storage.EventGet, Collection: collection, Key: key, Value: value})
	return value, true, nil
}

// Has reports whether (collection, key) currently holds a value.
func (a *Adapter) Has(ctx context.Context, collection, key string) (bool, error) {
	n, err := a.db.Exists(ctx, a.keyFor(collection, key)).Result()
	if err != nil {
		a.emitError(err)
		return false, fmt.Errorf("%w: %v", storage.ErrTransport, err)
	}
	return n > 0, nil
}

// Set validates value against any schema registered for (collection, key)
// and, only if it passes, writes it and emits EventSet. A failing
// validation never reaches the backing store.
func (a *Adapter) Set(ctx context.Context, collection, key string, value interface{}) error {
	if err := storage.ValidateSchema(a.schema.Lookup(collection, key), collection, key, value); err != nil {
		a.emitError(err)
		return err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: encode value for %s/%s: %w", collection, key, err)
	}

	if err := a.db.Set(ctx, a.keyFor(collection, key), string(encoded), 0).Err(); err != nil {
		a.emitError(err)
		return fmt.Errorf("%w: %v", storage.ErrTransport, err)
	}

	a.events.Emit(storage.Event{Kind: storage.EventSet, Collection: collection, Key: key, Value: value})
	return nil
}

// Delete removes (collection, key), reporting whether a value was actually
// present.
func (a *Adapter) Delete(ctx context.Context, collection, key string) (bool, error) {
	n, err := a.db.Del(ctx, a.keyFor(collection, key)).Result()
	if err != nil {
		a.emitError(err)
		return false, fmt.Errorf("%w: %v", storage.ErrTransport, err)
	}
	removed := n > 0
	if removed {
		a.events.Emit(storage.Event{Kind: storage.EventDelete, Collection: collection, Key: key})
	}
	return removed, nil
}

// Clear removes every key in collection (or, when collection is "", every
// key under this adapter's prefix) using a KEYS scan followed by a DEL, the
// same best-effort-snapshot enumeration strategy the teacher's Redis
// storage used. Callers operating against a very large keyspace should
// substitute a cursor-based SCAN; the semantics are unchanged either way.
func (a *Adapter) Clear(ctx context.Context, collection string) (int, error) {
	keys, err := a.db.Keys(ctx, a.collectionPattern(collection)).Result()
	if err != nil {
		a.emitError(err)
		return 0, fmt.Errorf("%w: %v", storage.ErrTransport, err)
	}
	if len(keys) == 0 {
		a.events.Emit(storage.Event{Kind: storage.EventClear, Collection: clearLabel(collection), Count: 0})
		return 0, nil
	}

	n, err := a.db.Del(ctx, keys...).Result()
	if err != nil {
		a.emitError(err)
		return 0, fmt.Errorf("%w: %v", storage.ErrTransport, err)
	}

	a.events.Emit(storage.Event{Kind: storage.EventClear, Collection: clearLabel(collection), Count: int(n)})
	return int(n), nil
}

func clearLabel(collection string) string {
	if collection == "" {
		return "all"
	}
	return collection
}

// Size returns the number of keys in collection, or across the whole
// adapter when collection is "".
func (a *Adapter) Size(ctx context.Context, collection string) (int, error) {
	keys, err := a.db.Keys(ctx, a.collectionPattern(collection)).Result()
	if err != nil {
		a.emitError(err)
		return 0, fmt.Errorf("%w: %v", storage.ErrTransport, err)
	}
	return len(keys), nil
}

// Keys returns the bare key names (the segment after {prefix}:{collection}:)
// stored in collection.
func (a *Adapter) Keys(ctx context.Context, collection string) ([]string, error) {
	raw, err := a.db.Keys(ctx, a.collectionPattern(collection)).Result()
	if err != nil {
		a.emitError(err)
		return nil, fmt.Errorf("%w: %v", storage.ErrTransport, err)
	}

	trimPrefix := a.prefix + ":" + collection + ":"
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, strings.TrimPrefix(k, trimPrefix))
	}
	return keys, nil
}

// On subscribes handler to every local event of kind.
func (a *Adapter) On(kind storage.EventKind, handler storage.Handler) func() {
	return a.events.On(kind, handler)
}

// Close unsubscribes every local handler. It does not close db, which is
// shared across every tenant adapter produced by the same bucket manager.
func (a *Adapter) Close() error {
	a.closed = true
	a.events.Close()
	return nil
}

func (a *Adapter) emitError(err error) {
	a.events.Emit(storage.Event{Kind: storage.EventError, Err: err})
}
