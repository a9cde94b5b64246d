package gateway

import "context"

// Transport is one connected gateway socket. Implementations need not be
// websocket-specific; the FSM only needs framed Payload read/write.
type Transport interface {
	ReadPayload(ctx context.Context) (Payload, error)
	WritePayload(ctx context.Context, p Payload) error
	Close() error
}

// DialFunc opens a Transport to url. Production code supplies a
// gorilla/websocket-backed implementation; tests supply a fake so the FSM
// can be exercised without a real network.
type DialFunc func(ctx context.Context, url string) (Transport, error)
