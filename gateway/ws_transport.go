package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
)

// wsTransport adapts a gorilla/websocket connection to Transport.
type wsTransport struct {
	conn *websocket.Conn
}

// DialWebsocket is the production DialFunc, opening a real websocket
// connection to url.
func DialWebsocket(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: dial %s: %w", url, err)
	}
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) ReadPayload(ctx context.Context) (Payload, error) {
	_, raw, err := t.conn.ReadMessage()
	if err != nil {
		return Payload{}, err
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("gateway: decode payload: %w", err)
	}
	return p, nil
}

func (t *wsTransport) WritePayload(ctx context.Context, p Payload) error {
	return t.conn.WriteJSON(p)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
