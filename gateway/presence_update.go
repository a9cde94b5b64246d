package gateway

import (
	"context"
	"fmt"

	"github.com/storagefabric/fabric/gateway/presence"
)

// SendPresenceUpdate validates update and sends it as an op=3 frame on the
// connection's current transport, per the rate-limit gate every send must
// pass through.
func (c *Connection) SendPresenceUpdate(ctx context.Context, update presence.Update) error {
	payload, err := presence.MarshalPayload(update)
	if err != nil {
		return err
	}

	c.mu.Lock()
	transport := c.transport
	c.mu.Unlock()
	if transport == nil {
		return fmt.Errorf("gateway: no active connection to send presence update on")
	}

	if err := c.WaitForAvailability(ctx, OpPresenceUpdate); err != nil {
		return err
	}
	return transport.WritePayload(ctx, Payload{Op: OpPresenceUpdate, D: payload})
}
