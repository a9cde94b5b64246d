package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/storagefabric/fabric/pkg/log"
)

// ConnState is one stage of the FSM in spec.md §4.8:
// disconnected → connecting → hello-received → identifying|resuming →
// ready → {heartbeating} → (disconnected|reconnecting).
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateHelloReceived
	StateIdentifying
	StateResuming
	StateReady
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHelloReceived:
		return "hello-received"
	case StateIdentifying:
		return "identifying"
	case StateResuming:
		return "resuming"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Config configures a Connection.
type Config struct {
	URL    string
	Token  string
	Store  SessionStore // defaults to a fresh InMemorySessionStore
	Dial   DialFunc     // defaults to DialWebsocket
	Logger log.Logger

	// OnDispatch is called for every dispatch (op=0) frame whose t is not
	// READY, RESUMED or RATE_LIMITED, i.e. every domain event the gateway
	// forwards.
	OnDispatch func(t string, d json.RawMessage)
}

// Connection drives one gateway session end to end: connect, HELLO,
// IDENTIFY or RESUME, heartbeat, and reconnect with backoff on failure.
// Per spec.md §5's scheduling model, one Connection's FSM, heartbeat timer,
// and dispatch path are logically single-threaded; Run owns that thread.
type Connection struct {
	cfg     Config
	logger  log.Logger
	limiter *rateLimiter

	mu       sync.Mutex
	state    ConnState
	seq      *int
	session  Session
	hasSess  bool
	transport Transport

	closed chan struct{}
}

// New constructs a Connection. Call Run to drive it; Run blocks until ctx
// is cancelled, Close is called, or reconnect attempts are exhausted.
func New(cfg Config) *Connection {
	if cfg.Store == nil {
		cfg.Store = NewInMemorySessionStore()
	}
	if cfg.Dial == nil {
		cfg.Dial = DialWebsocket
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewSlogLogger(slog.Default())
	}
	if cfg.OnDispatch == nil {
		cfg.OnDispatch = func(string, json.RawMessage) {}
	}

	return &Connection{
		cfg:     cfg,
		logger:  cfg.Logger,
		limiter: newRateLimiter(),
		state:   StateDisconnected,
		closed:  make(chan struct{}),
	}
}

// State reports the connection's current FSM state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Close stops Run's reconnect loop and closes any live transport.
func (c *Connection) Close() error {
	select {
	case <-c.closed:
		return nil
	default:
		close(c.closed)
	}
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t != nil {
		return t.Close()
	}
	return nil
}

// Run connects, handshakes, and services the connection until ctx is
// cancelled, Close is called, or MaxReconnectAttempts consecutive failures
// occur. It returns the error that ended the loop, or nil on a clean
// Close/ctx cancellation.
func (c *Connection) Run(ctx context.Context) error {
	if url := c.cfg.URL; url == "" {
		return fmt.Errorf("gateway: Config.URL is required")
	}

	attempt := 0
	for {
		select {
		case <-c.closed:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := c.sessionOnce(ctx)
		if err == nil {
			attempt = 0
			continue
		}

		select {
		case <-c.closed:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !isReconnectable(err) {
			return err
		}

		attempt++
		if attempt > MaxReconnectAttempts {
			return fmt.Errorf("gateway: exceeded %d reconnect attempts: %w", MaxReconnectAttempts, err)
		}

		c.setState(StateReconnecting)
		delay := reconnectDelay(attempt)
		c.logger.Warnf("gateway: connection lost (%v), reconnecting in %s (attempt %d/%d)", err, delay, attempt, MaxReconnectAttempts)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-c.closed:
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// reconnectableErr marks an error as one that should trigger the backoff
// reconnect loop rather than terminate Run outright (spec.md §4.8: "Close
// code 4000 is treated as may reconnect; others terminate").
type reconnectableErr struct{ err error }

func (e *reconnectableErr) Error() string { return e.err.Error() }
func (e *reconnectableErr) Unwrap() error { return e.err }

func reconnectable(err error) error { return &reconnectableErr{err: err} }

func isReconnectable(err error) bool {
	_, ok := err.(*reconnectableErr)
	return ok
}

// sessionOnce drives a single connect-through-disconnect lifecycle:
// dial, HELLO, IDENTIFY or RESUME, heartbeat loop and dispatch read loop,
// until the transport fails or a non-recoverable frame is received.
func (c *Connection) sessionOnce(ctx context.Context) error {
	c.setState(StateConnecting)
	transport, err := c.cfg.Dial(ctx, c.dialURL())
	if err != nil {
		return reconnectable(err)
	}

	c.mu.Lock()
	c.transport = transport
	c.mu.Unlock()
	defer func() {
		_ = transport.Close()
		c.mu.Lock()
		c.transport = nil
		c.mu.Unlock()
	}()

	hello, err := transport.ReadPayload(ctx)
	if err != nil {
		return reconnectable(err)
	}
	if hello.Op != OpHello {
		return reconnectable(fmt.Errorf("gateway: expected hello, got op %d", hello.Op))
	}
	var helloData HelloData
	if err := json.Unmarshal(hello.D, &helloData); err != nil {
		return reconnectable(fmt.Errorf("gateway: decode hello: %w", err))
	}
	c.setState(StateHelloReceived)

	if err := c.identifyOrResume(ctx, transport); err != nil {
		return reconnectable(err)
	}

	ackCh := make(chan struct{}, 1)

	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()
	hbErrs := make(chan error, 1)
	go c.heartbeatLoop(hbCtx, transport, time.Duration(helloData.HeartbeatIntervalMS)*time.Millisecond, ackCh, hbErrs)

	readErrs := make(chan error, 1)
	go c.readLoop(ctx, transport, ackCh, readErrs)

	select {
	case err := <-hbErrs:
		return reconnectable(err)
	case err := <-readErrs:
		if err == nil {
			return nil
		}
		return reconnectable(err)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return nil
	}
}

func (c *Connection) dialURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasSess && c.session.ResumeGatewayURL != "" {
		return c.session.ResumeGatewayURL
	}
	return c.cfg.URL
}

func (c *Connection) identifyOrResume(ctx context.Context, transport Transport) error {
	c.mu.Lock()
	hasSess := c.hasSess
	sess := c.session
	c.mu.Unlock()

	if !hasSess {
		loaded, ok, err := c.cfg.Store.Load(ctx, c.cfg.Token)
		if err != nil {
			return fmt.Errorf("gateway: load session: %w", err)
		}
		if ok {
			hasSess = true
			sess = loaded
			c.mu.Lock()
			c.session = sess
			c.hasSess = true
			c.mu.Unlock()
		}
	}

	if hasSess {
		c.setState(StateResuming)
		if err := c.WaitForAvailability(ctx, OpResume); err != nil {
			return err
		}
		d, _ := json.Marshal(ResumeData{Token: c.cfg.Token, SessionID: sess.SessionID, Seq: sess.Sequence})
		return transport.WritePayload(ctx, Payload{Op: OpResume, D: d})
	}

	c.setState(StateIdentifying)
	if err := c.WaitForAvailability(ctx, OpIdentify); err != nil {
		return err
	}
	d, _ := json.Marshal(IdentifyData{Token: c.cfg.Token})
	return transport.WritePayload(ctx, Payload{Op: OpIdentify, D: d})
}

func (c *Connection) heartbeatLoop(ctx context.Context, transport Transport, interval time.Duration, ackCh <-chan struct{}, errs chan<- error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ackTimeout := interval
	ackTimer := time.NewTimer(ackTimeout)
	ackTimer.Stop()
	awaitingAck := false

	sendBeat := func() error {
		if err := c.WaitForAvailability(ctx, OpHeartbeat); err != nil {
			return err
		}
		c.mu.Lock()
		seq := c.seq
		c.mu.Unlock()
		if err := transport.WritePayload(ctx, Payload{Op: OpHeartbeat, D: mustSeqJSON(seq)}); err != nil {
			return err
		}
		// Arm the ack timer only when no earlier beat is still unacked, so a
		// silent peer times out one interval after the first missed ack.
		if !awaitingAck {
			ackTimer.Reset(ackTimeout)
			awaitingAck = true
		}
		return nil
	}

	if err := sendBeat(); err != nil {
		errs <- err
		return
	}

	for {
		select {
		case <-ticker.C:
			if err := sendBeat(); err != nil {
				errs <- err
				return
			}
		case <-ackTimer.C:
			errs <- fmt.Errorf("gateway: heartbeat ack timed out")
			return
		case <-ackCh:
			ackTimer.Stop()
			awaitingAck = false
		case <-ctx.Done():
			return
		}
	}
}

func mustSeqJSON(seq *int) json.RawMessage {
	raw, _ := json.Marshal(seq)
	return raw
}

func (c *Connection) readLoop(ctx context.Context, transport Transport, ackCh chan<- struct{}, errs chan<- error) {
	for {
		payload, err := transport.ReadPayload(ctx)
		if err != nil {
			errs <- err
			return
		}
		if err := c.handlePayload(ctx, transport, payload, ackCh); err != nil {
			errs <- err
			return
		}
	}
}
