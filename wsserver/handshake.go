package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/storagefabric/fabric/bucket"
	"github.com/storagefabric/fabric/cryptosession"
	"github.com/storagefabric/fabric/protocol"
)

// handshake drives a connection from ACCEPTED through KEY-EXCHANGED to
// AUTHENTICATED, per spec.md §4.5: read the hello frame, validate the
// token, derive the channel id, generate and seal a session key, reply
// with HelloResponse then EncryptionFrame, ensure the tenant's bucket, and
// join the broadcast channel.
func (c *connection) handshake(ctx context.Context) error {
	if c.currentState() != stateAccepted {
		return fmt.Errorf("wsserver: handshake called out of order in state %s", c.currentState())
	}

	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("read hello frame: %w", err)
	}

	var hello protocol.HelloRequest
	if err := json.Unmarshal(raw, &hello); err != nil || hello.Type != protocol.FrameHello {
		return fmt.Errorf("expected a hello frame")
	}
	if hello.Token == "" {
		return fmt.Errorf("hello frame missing token")
	}
	if !c.server.cfg.ValidateToken(hello.Token) {
		// Wire text must match spec.md §4.5 step 2 / scenario S4 verbatim.
		return errors.New("Invalid token")
	}

	c.mu.Lock()
	c.token = hello.Token
	c.tenantID = bucket.TenantID(hello.Token)
	c.isAdmin = c.server.cfg.IsAdminToken(hello.Token)
	c.mu.Unlock()

	channelID := cryptosession.ChannelID(hello.Token)
	secret := cryptosession.DeriveLongTermSecret(hello.Token)

	session, err := cryptosession.NewSession()
	if err != nil {
		return fmt.Errorf("generate session: %w", err)
	}
	encryptionKeyB64, ivB64, err := cryptosession.SealSessionKey(secret, session)
	if err != nil {
		return fmt.Errorf("seal session key: %w", err)
	}

	c.mu.Lock()
	c.channelID = channelID
	c.session = session
	c.st = stateKeyExchanged
	c.mu.Unlock()

	c.widenLogger(c.tenantID, channelID)

	c.sendUnencrypted(protocol.HelloResponse{Type: protocol.FrameHello, ChannelID: channelID})
	c.sendUnencrypted(protocol.EncryptionFrame{
		Type:          protocol.FrameEncryption,
		EncryptionKey: encryptionKeyB64,
		IV:            ivB64,
	})

	adapter, err := c.server.buckets.EnsureUserBucket(ctx, hello.Token)
	if err != nil {
		return fmt.Errorf("ensure user bucket: %w", err)
	}

	c.mu.Lock()
	c.adapter = adapter
	c.st = stateAuthenticated
	c.mu.Unlock()

	c.server.broker.Join(channelID, c)
	return nil
}
