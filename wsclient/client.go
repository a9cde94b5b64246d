// Package wsclient implements storage.Adapter over the encrypted websocket
// transport described in spec.md §6, for callers that want to talk to a
// wsserver without running their own Redis. It is the Go counterpart of
// spec.md's component H. The handshake and per-message AEAD are shared
// verbatim with wsserver via package cryptosession; the pending-request
// correlation table and reconnect-with-backoff loop follow the gateway
// connection's retry idiom in package gateway, generalized from dex's own
// request/response client plumbing.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/storagefabric/fabric/cryptosession"
	"github.com/storagefabric/fabric/pkg/log"
	"github.com/storagefabric/fabric/protocol"
	"github.com/storagefabric/fabric/storage"
)

const (
	// DefaultRequestTimeout bounds how long a single RPC waits for its
	// matching Response before failing with storage.ErrTransport.
	DefaultRequestTimeout = 5 * time.Second

	// DefaultReconnectInterval and DefaultMaxReconnectAttempts are
	// spec.md §6's client-adapter defaults.
	DefaultReconnectInterval    = 1000 * time.Millisecond
	DefaultMaxReconnectAttempts = 10

	maxBackoff = 5 * time.Second
)

// Config configures a client Adapter.
type Config struct {
	URL            string // e.g. "ws://host:3000/ws"
	Token          string
	RequestTimeout time.Duration
	Logger         log.Logger

	// ReconnectInterval is the base delay between reconnect attempts
	// (spec.md §6; defaults to DefaultReconnectInterval). It seeds the
	// bounded exponential backoff (capped at maxBackoff) rather than
	// being used as a fixed interval, matching the same retry idiom the
	// gateway connection core uses for reconnection.
	ReconnectInterval time.Duration

	// MaxReconnectAttempts caps how many consecutive reconnect failures
	// the adapter tolerates before giving up permanently (spec.md §6;
	// defaults to DefaultMaxReconnectAttempts). 0 after defaulting is
	// impossible; a negative value disables the cap.
	MaxReconnectAttempts int
}

// Adapter is a storage.Adapter backed by one managed websocket connection
// to a wsserver. It reconnects with bounded exponential backoff and
// replays the handshake on every reconnect; in-flight requests at the time
// of a disconnect fail at once, with an error whose message carries the
// transport failure, rather than hang forever. That error does not wrap
// storage.ErrTransport.
type Adapter struct {
	cfg     Config
	emitter *storage.Emitter
	logger  log.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	session   *cryptosession.Session
	channelID string
	pending   map[string]chan protocol.Response
	closed    bool

	nextID    uint64
	closeOnce sync.Once
	done      chan struct{}
}

// withDefaults fills in every spec.md §6 client-config default left zero.
func (cfg Config) withDefaults() Config {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewSlogLogger(slog.Default())
	}
	return cfg
}

// Dial connects to cfg.URL, completes the handshake, and starts the
// background read/reconnect loop. The returned Adapter satisfies
// storage.Adapter.
func Dial(ctx context.Context, cfg Config) (*Adapter, error) {
	cfg = cfg.withDefaults()

	a := &Adapter{
		cfg:     cfg,
		emitter: storage.NewEmitter(),
		logger:  cfg.Logger,
		pending: make(map[string]chan protocol.Response),
		done:    make(chan struct{}),
	}

	if err := a.connect(ctx); err != nil {
		return nil, err
	}

	go a.readLoop()
	return a, nil
}

func (a *Adapter) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("wsclient: dial %s: %w", a.cfg.URL, err)
	}

	if err := conn.WriteJSON(protocol.NewHelloRequest(a.cfg.Token)); err != nil {
		_ = conn.Close()
		return fmt.Errorf("wsclient: send hello: %w", err)
	}

	var hello protocol.HelloResponse
	if err := conn.ReadJSON(&hello); err != nil {
		_ = conn.Close()
		return fmt.Errorf("wsclient: read hello response: %w", err)
	}

	var enc protocol.EncryptionFrame
	if err := conn.ReadJSON(&enc); err != nil {
		_ = conn.Close()
		return fmt.Errorf("wsclient: read encryption frame: %w", err)
	}

	secret := cryptosession.DeriveLongTermSecret(a.cfg.Token)
	session, err := cryptosession.UnsealSessionKey(secret, enc.EncryptionKey, enc.IV)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("wsclient: unseal session key: %w", err)
	}

	a.mu.Lock()
	a.conn = conn
	a.session = session
	a.channelID = hello.ChannelID
	a.mu.Unlock()

	a.emitter.Emit(storage.Event{Kind: storage.EventConnected})
	return nil
}

// readLoop owns the single reader of the websocket: it demultiplexes
// Response frames to their waiting caller via the pending table, and
// EventFrame broadcasts to storage.EventRemote subscribers. On
// disconnect it fails every pending request and reconnects with bounded
// backoff until Close is called.
func (a *Adapter) readLoop() {
	backoff := a.cfg.ReconnectInterval
	for {
		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()

		_, raw, err := conn.ReadMessage()
		if err != nil {
			a.failPending(fmt.Errorf("%w: %v", storage.ErrTransport, err))
			a.emitter.Emit(storage.Event{Kind: storage.EventDisconnected})

			select {
			case <-a.done:
				return
			default:
			}

			if !a.reconnectLoop(&backoff) {
				a.emitter.Emit(storage.Event{Kind: storage.EventDisconnected})
				a.logger.Errorf("wsclient: exceeded %d reconnect attempts, giving up", a.cfg.MaxReconnectAttempts)
				return
			}
			continue
		}
		backoff = a.cfg.ReconnectInterval

		a.handleFrame(raw)
	}
}

// reconnectLoop retries connect with bounded exponential backoff, seeded
// from cfg.ReconnectInterval and capped at maxBackoff, up to
// cfg.MaxReconnectAttempts consecutive failures (spec.md §6's client
// config). It returns false once that cap is exceeded or Close fires.
func (a *Adapter) reconnectLoop(backoff *time.Duration) bool {
	attempts := 0
	for {
		if a.cfg.MaxReconnectAttempts > 0 && attempts >= a.cfg.MaxReconnectAttempts {
			return false
		}

		select {
		case <-a.done:
			return false
		case <-time.After(*backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), DefaultRequestTimeout)
		err := a.connect(ctx)
		cancel()
		if err == nil {
			return true
		}
		attempts++
		a.logger.Warnf("wsclient: reconnect attempt %d/%d failed: %v", attempts, a.cfg.MaxReconnectAttempts, err)

		*backoff *= 2
		if *backoff > maxBackoff {
			*backoff = maxBackoff
		}
	}
}

func (a *Adapter) handleFrame(raw []byte) {
	var wire string
	if err := json.Unmarshal(raw, &wire); err != nil {
		return
	}

	a.mu.Lock()
	sess := a.session
	a.mu.Unlock()

	plaintext, err := cryptosession.DecryptFrame(sess, wire)
	if err != nil {
		a.logger.Warnf("wsclient: decrypt frame: %v", err)
		return
	}

	if evt := protocol.PeekType(plaintext); evt == protocol.FrameEvent {
		var frame protocol.EventFrame
		if err := json.Unmarshal(plaintext, &frame); err != nil {
			return
		}
		a.emitter.Emit(storage.Event{
			Kind:       storage.EventRemote,
			Collection: frame.Collection,
			Key:        frame.Key,
			Value:      frame.Value,
		})
		return
	}

	var resp protocol.Response
	if err := json.Unmarshal(plaintext, &resp); err != nil {
		return
	}

	a.mu.Lock()
	ch, ok := a.pending[resp.ID]
	if ok {
		delete(a.pending, resp.ID)
	}
	a.mu.Unlock()

	if ok {
		ch <- resp
	}
}

func (a *Adapter) failPending(err error) {
	a.mu.Lock()
	pending := a.pending
	a.pending = make(map[string]chan protocol.Response)
	a.mu.Unlock()

	for id, ch := range pending {
		ch <- protocol.Response{ID: id, Error: err.Error()}
	}
}

func (a *Adapter) nextRequestID() string {
	n := atomic.AddUint64(&a.nextID, 1)
	return fmt.Sprintf("%s-%d", uuid.NewString(), n)
}

// call sends req and blocks until its matching Response arrives or
// RequestTimeout elapses.
func (a *Adapter) call(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return protocol.Response{}, storage.ErrClosed
	}
	req.ID = a.nextRequestID()
	ch := make(chan protocol.Response, 1)
	a.pending[req.ID] = ch
	conn := a.conn
	sess := a.session
	a.mu.Unlock()

	encoded, err := json.Marshal(req)
	if err != nil {
		return protocol.Response{}, err
	}
	wire, err := cryptosession.EncryptFrame(sess, encoded)
	if err != nil {
		return protocol.Response{}, err
	}
	if err := conn.WriteJSON(wire); err != nil {
		a.mu.Lock()
		delete(a.pending, req.ID)
		a.mu.Unlock()
		return protocol.Response{}, fmt.Errorf("%w: %v", storage.ErrTransport, err)
	}

	timeout := a.cfg.RequestTimeout
	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(timeout):
		a.mu.Lock()
		delete(a.pending, req.ID)
		a.mu.Unlock()
		return protocol.Response{}, fmt.Errorf("%w: request %s timed out", storage.ErrTransport, req.Action)
	case <-ctx.Done():
		return protocol.Response{}, ctx.Err()
	case <-a.done:
		return protocol.Response{}, storage.ErrClosed
	}
}

// Close stops the background loops and closes the underlying connection.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		conn := a.conn
		a.mu.Unlock()

		close(a.done)
		if conn != nil {
			err = conn.Close()
		}
		a.emitter.Close()
	})
	return err
}
