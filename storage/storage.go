// Package storage defines the key-value adapter contract shared by every
// tenant bucket and by the client-side remote adapter. Implementations are
// required to support validation-on-write and to emit local events for every
// mutation.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors returned by Adapter implementations. Wrap with fmt.Errorf
// and %w, or compare with errors.Is.
var (
	ErrNotFound  = errors.New("storage: not found")
	ErrClosed    = errors.New("storage: adapter closed")
	ErrTransport = errors.New("storage: transport error")

	// ErrAlreadyExists is returned by a create-only operation that loses a
	// race to another writer of the same record, e.g. the bucket manager's
	// SetNX-guarded tenant-metadata creation (see bucket.Manager).
	ErrAlreadyExists = errors.New("storage: already exists")

	// ErrValidation is the sentinel every *ValidationError satisfies
	// through Is, so callers that only care "was this a validation
	// failure" can use errors.Is(err, storage.ErrValidation) without a
	// type assertion.
	ErrValidation = errors.New("storage: validation failed")
)

// ValidationError is returned by Set or Get when a value fails the schema
// registered for its (collection, key).
type ValidationError struct {
	Collection string
	Key        string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("storage: validation failed for %s/%s: %s", e.Collection, e.Key, e.Reason)
}

// Is reports whether target is ErrValidation, so errors.Is(err,
// storage.ErrValidation) matches any *ValidationError regardless of its
// Collection/Key/Reason.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Schema validates a decoded value for a single (collection, key) pair.
// Implementations should be cheap and side-effect free; they run on every
// Set and every Get.
type Schema interface {
	Validate(value interface{}) error
}

// SchemaFunc adapts a plain function to the Schema interface.
type SchemaFunc func(value interface{}) error

// Validate implements Schema.
func (f SchemaFunc) Validate(value interface{}) error { return f(value) }

// EventKind names the kind of mutation a local or remote event describes.
type EventKind string

const (
	EventGet          EventKind = "get"
	EventSet          EventKind = "set"
	EventDelete       EventKind = "delete"
	EventClear        EventKind = "clear"
	EventError        EventKind = "error"
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventRemote       EventKind = "remote"
)

// Event is delivered to local subscribers registered with Adapter.On.
// Fields not relevant to Kind are left zero.
type Event struct {
	Kind       EventKind
	Collection string
	Key        string
	Value      interface{}
	Count      int   // populated for EventClear
	Err        error // populated for EventError
}

// Handler receives events of a single kind, in the order they were emitted.
// Handlers must not block for long; delivery is fire-and-forget from the
// adapter's point of view; an implementation that needs a bound should run
// its own bounded queue ahead of this callback.
type Handler func(Event)

// Adapter is the uniform, asynchronous key-value contract every tenant
// bucket and the client-side remote store present. collection is an opaque
// namespace string; keys are unique within (tenant, collection).
type Adapter interface {
	Get(ctx context.Context, collection, key string) (value interface{}, found bool, err error)
	Has(ctx context.Context, collection, key string) (bool, error)
	Set(ctx context.Context, collection, key string, value interface{}) error
	Delete(ctx context.Context, collection, key string) (removed bool, err error)

	// Clear removes every key in collection, or every collection when
	// collection is "". It returns the number of keys removed.
	Clear(ctx context.Context, collection string) (count int, err error)

	// Size returns the number of keys in collection, or across every
	// collection when collection is "".
	Size(ctx context.Context, collection string) (int, error)

	// Keys returns the bare key names stored in collection, in no
	// particular order.
	Keys(ctx context.Context, collection string) ([]string, error)

	// On subscribes handler to every event of kind. Returns an unsubscribe
	// function. Order of delivery is preserved per event kind.
	On(kind EventKind, handler Handler) (unsubscribe func())

	// Close releases resources held by the adapter and drops every
	// subscriber registered via On.
	Close() error
}

// ValidateSchema registered for (collection, key) rejects value, returning a
// *ValidationError; a nil schema always accepts.
func ValidateSchema(schema Schema, collection, key string, value interface{}) error {
	if schema == nil {
		return nil
	}
	if err := schema.Validate(value); err != nil {
		return &ValidationError{Collection: collection, Key: key, Reason: err.Error()}
	}
	return nil
}

// SchemaRegistry maps a (collection, key) pair to the Schema that must
// validate values written to it. An empty key in the registry key matches
// every key in that collection; this lets callers register a
// collection-wide schema without enumerating every key up front.
type SchemaRegistry struct {
	byPair map[schemaKey]Schema
}

type schemaKey struct {
	collection string
	key        string
}

// NewSchemaRegistry returns an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{byPair: make(map[schemaKey]Schema)}
}

// Register installs schema for (collection, key). An empty key registers a
// default schema for the whole collection.
func (r *SchemaRegistry) Register(collection, key string, schema Schema) {
	r.byPair[schemaKey{collection, key}] = schema
}

// Lookup returns the most specific schema registered for (collection, key),
// falling back to a collection-wide schema, or nil if none was registered.
func (r *SchemaRegistry) Lookup(collection, key string) Schema {
	if s, ok := r.byPair[schemaKey{collection, key}]; ok {
		return s
	}
	if s, ok := r.byPair[schemaKey{collection, ""}]; ok {
		return s
	}
	return nil
}
