package wsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/storagefabric/fabric/cryptosession"
	"github.com/storagefabric/fabric/pkg/log"
	"github.com/storagefabric/fabric/protocol"
	"github.com/storagefabric/fabric/storage"
)

// state is one stage of the per-connection handshake described in
// spec.md §4.5: a client moves forward exactly once through each of these,
// never back.
type state int

const (
	stateAccepted state = iota
	stateKeyExchanged
	stateAuthenticated
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateAccepted:
		return "accepted"
	case stateKeyExchanged:
		return "key_exchanged"
	case stateAuthenticated:
		return "authenticated"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const writeTimeout = 10 * time.Second

// connection drives one websocket's handshake and request loop. It
// implements channel.Sender so the broker can deliver broadcasts to it
// directly.
type connection struct {
	id     string
	server *Server
	ws     *websocket.Conn

	// logger starts scoped to conn_id and is widened with tenant_id and
	// channel_id once the handshake authenticates, the way the teacher
	// project's requestContextHandler widens a log line with fields
	// pulled off the request context.
	logger log.Logger

	mu       sync.Mutex
	st       state
	token    string
	tenantID string
	isAdmin  bool

	channelID string
	session   *cryptosession.Session
	adapter   storage.Adapter

	outbound chan []byte
	closeOnce sync.Once
}

func newConnection(s *Server, ws *websocket.Conn) *connection {
	id := uuid.NewString()
	return &connection{
		id:       id,
		server:   s,
		ws:       ws,
		st:       stateAccepted,
		outbound: make(chan []byte, 64),
		logger:   s.logger.With("conn_id", id),
	}
}

// widenLogger attaches tenant_id and channel_id to the connection's logger
// once the handshake has derived them. Called once, from handshake.go.
func (c *connection) widenLogger(tenantID, channelID string) {
	c.logger = c.logger.With("tenant_id", tenantID, "channel_id", channelID)
}

// ID implements channel.Sender.
func (c *connection) ID() string { return c.id }

// Send implements channel.Sender: it encrypts an EventFrame under this
// connection's session and queues it for the write pump. Send never blocks
// the broker's fan-out longer than it takes to enqueue on outbound; a
// connection whose outbound buffer is full is considered wedged and is
// torn down rather than let the broadcaster stall.
func (c *connection) Send(event interface{}) error {
	c.mu.Lock()
	sess := c.session
	authenticated := c.st == stateAuthenticated
	c.mu.Unlock()

	if !authenticated || sess == nil {
		return fmt.Errorf("wsserver: connection %s not ready to receive broadcasts", c.id)
	}

	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("wsserver: encode broadcast event: %w", err)
	}
	frame, err := cryptosession.EncryptFrame(sess, encoded)
	if err != nil {
		return fmt.Errorf("wsserver: encrypt broadcast frame: %w", err)
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	select {
	case c.outbound <- payload:
		return nil
	default:
		c.teardown()
		return fmt.Errorf("wsserver: connection %s outbound buffer full, dropped", c.id)
	}
}

// run owns the connection's lifetime: write pump, handshake, request loop,
// and final teardown.
func (c *connection) run(ctx context.Context) {
	defer c.teardown()

	go c.writePump()

	if err := c.handshake(ctx); err != nil {
		c.logger.Warnf("wsserver: connection %s handshake failed: %v", c.id, err)
		c.sendUnencrypted(protocol.NewErrorFrame(err.Error()))
		return
	}

	c.requestLoop(ctx)
}

func (c *connection) writePump() {
	for payload := range c.outbound {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			c.logger.Debugf("wsserver: connection %s write failed: %v", c.id, err)
			return
		}
	}
}

func (c *connection) sendUnencrypted(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.outbound <- payload:
	default:
	}
}

func (c *connection) currentState() state {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

// teardown releases everything this connection holds: it leaves the
// broker, closes the outbound channel (stopping the write pump), and
// closes the underlying websocket. Safe to call more than once.
func (c *connection) teardown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		channelID := c.channelID
		c.st = stateClosed
		c.mu.Unlock()

		if channelID != "" {
			c.server.broker.Leave(channelID, c)
		}
		close(c.outbound)
		_ = c.ws.Close()
		c.server.metrics.connectionsActive.Dec()
	})
}
