package wsclient

import (
	"encoding/json"
	"fmt"
)

// decodeResult re-encodes the loosely-typed result carried by a
// protocol.Response (it arrives as a map[string]interface{} from the
// envelope's own JSON decode) into the concrete result type named by the
// action that produced it.
func decodeResult[T any](raw interface{}) (T, error) {
	var out T
	encoded, err := json.Marshal(raw)
	if err != nil {
		return out, fmt.Errorf("wsclient: re-encode result: %w", err)
	}
	if err := json.Unmarshal(encoded, &out); err != nil {
		return out, fmt.Errorf("wsclient: decode result: %w", err)
	}
	return out, nil
}
