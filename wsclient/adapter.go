package wsclient

import (
	"context"
	"fmt"

	"github.com/storagefabric/fabric/protocol"
	"github.com/storagefabric/fabric/storage"
)

// Get implements storage.Adapter by round-tripping protocol.ActionGet.
func (a *Adapter) Get(ctx context.Context, collection, key string) (interface{}, bool, error) {
	resp, err := a.call(ctx, protocol.Request{Action: protocol.ActionGet, Collection: collection, Key: key})
	if err != nil {
		return nil, false, err
	}
	if resp.Error != "" {
		return nil, false, fmt.Errorf("wsclient: get: %s", resp.Error)
	}

	result, err := decodeResult[protocol.GetResult](resp.Result)
	if err != nil {
		return nil, false, err
	}
	if result.Found {
		a.emitter.Emit(storage.Event{Kind: storage.EventGet, Collection: collection, Key: key, Value: result.Value})
	}
	return result.Value, result.Found, nil
}

// Has implements storage.Adapter via Get, since the wire protocol has no
// dedicated existence check (spec.md §6 lists no has action).
func (a *Adapter) Has(ctx context.Context, collection, key string) (bool, error) {
	_, found, err := a.Get(ctx, collection, key)
	return found, err
}

// Set implements storage.Adapter.
func (a *Adapter) Set(ctx context.Context, collection, key string, value interface{}) error {
	resp, err := a.call(ctx, protocol.Request{Action: protocol.ActionSet, Collection: collection, Key: key, Value: value})
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("wsclient: set: %s", resp.Error)
	}
	a.emitter.Emit(storage.Event{Kind: storage.EventSet, Collection: collection, Key: key, Value: value})
	return nil
}

// Delete implements storage.Adapter.
func (a *Adapter) Delete(ctx context.Context, collection, key string) (bool, error) {
	resp, err := a.call(ctx, protocol.Request{Action: protocol.ActionDelete, Collection: collection, Key: key})
	if err != nil {
		return false, err
	}
	if resp.Error != "" {
		return false, fmt.Errorf("wsclient: delete: %s", resp.Error)
	}

	result, err := decodeResult[protocol.DeleteResult](resp.Result)
	if err != nil {
		return false, err
	}
	if result.Success {
		a.emitter.Emit(storage.Event{Kind: storage.EventDelete, Collection: collection, Key: key})
	}
	return result.Success, nil
}

// Clear implements storage.Adapter.
func (a *Adapter) Clear(ctx context.Context, collection string) (int, error) {
	resp, err := a.call(ctx, protocol.Request{Action: protocol.ActionClear, Collection: collection})
	if err != nil {
		return 0, err
	}
	if resp.Error != "" {
		return 0, fmt.Errorf("wsclient: clear: %s", resp.Error)
	}

	result, err := decodeResult[protocol.ClearResult](resp.Result)
	if err != nil {
		return 0, err
	}
	a.emitter.Emit(storage.Event{Kind: storage.EventClear, Collection: collection, Count: result.Count})
	return result.Count, nil
}

// Size implements storage.Adapter.
func (a *Adapter) Size(ctx context.Context, collection string) (int, error) {
	resp, err := a.call(ctx, protocol.Request{Action: protocol.ActionSize, Collection: collection})
	if err != nil {
		return 0, err
	}
	if resp.Error != "" {
		return 0, fmt.Errorf("wsclient: size: %s", resp.Error)
	}
	result, err := decodeResult[protocol.SizeResult](resp.Result)
	if err != nil {
		return 0, err
	}
	return result.Size, nil
}

// Keys implements storage.Adapter.
func (a *Adapter) Keys(ctx context.Context, collection string) ([]string, error) {
	resp, err := a.call(ctx, protocol.Request{Action: protocol.ActionKeys, Collection: collection})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("wsclient: keys: %s", resp.Error)
	}
	result, err := decodeResult[protocol.KeysResult](resp.Result)
	if err != nil {
		return nil, err
	}
	return result.Keys, nil
}

// On implements storage.Adapter, including storage.EventRemote delivery for
// broadcasts this connection receives from peers sharing its channel.
func (a *Adapter) On(kind storage.EventKind, handler storage.Handler) func() {
	return a.emitter.On(kind, handler)
}
