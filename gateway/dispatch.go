package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// handlePayload reacts to one frame per the opcode table in spec.md §4.8.
// OpHello is handled directly in sessionOnce before the read loop starts
// (it only ever arrives once, immediately after connect), so it is not
// listed here.
func (c *Connection) handlePayload(ctx context.Context, transport Transport, p Payload, ackCh chan<- struct{}) error {
	switch p.Op {
	case OpDispatch:
		return c.handleDispatch(ctx, p)

	case OpHeartbeat:
		return c.sendHeartbeatNow(ctx, transport)

	case OpReconnect:
		return fmt.Errorf("gateway: server requested reconnect (op 7)")

	case OpInvalidSession:
		return c.handleInvalidSession(ctx, transport, p)

	case OpHeartbeatAck:
		select {
		case ackCh <- struct{}{}:
		default:
		}
		return nil

	default:
		return nil
	}
}

func (c *Connection) handleDispatch(ctx context.Context, p Payload) error {
	if p.S != nil {
		c.mu.Lock()
		c.seq = p.S
		c.mu.Unlock()
	}

	switch p.T {
	case "READY":
		var ready ReadyData
		if err := json.Unmarshal(p.D, &ready); err != nil {
			return fmt.Errorf("gateway: decode READY: %w", err)
		}
		c.mu.Lock()
		c.session = Session{
			Token:            c.cfg.Token,
			SessionID:        ready.SessionID,
			ResumeGatewayURL: ready.ResumeGatewayURL,
			UserID:           ready.UserID,
			Timestamp:        time.Now(),
		}
		if c.seq != nil {
			c.session.Sequence = *c.seq
		}
		c.hasSess = true
		sess := c.session
		c.mu.Unlock()
		c.setState(StateReady)
		return c.cfg.Store.Save(ctx, sess)

	case "RESUMED":
		c.setState(StateReady)
		return nil

	case "RATE_LIMITED":
		var rl RateLimitedData
		if err := json.Unmarshal(p.D, &rl); err != nil {
			return fmt.Errorf("gateway: decode RATE_LIMITED: %w", err)
		}
		c.limiter.record(rl.Opcode, time.Duration(rl.RetryAfter)*time.Millisecond)
		return nil

	default:
		c.cfg.OnDispatch(p.T, p.D)
		return c.persistSequence(ctx)
	}
}

func (c *Connection) persistSequence(ctx context.Context) error {
	c.mu.Lock()
	if !c.hasSess {
		c.mu.Unlock()
		return nil
	}
	if c.seq != nil {
		c.session.Sequence = *c.seq
	}
	c.session.Timestamp = time.Now()
	sess := c.session
	c.mu.Unlock()
	return c.cfg.Store.Save(ctx, sess)
}

func (c *Connection) sendHeartbeatNow(ctx context.Context, transport Transport) error {
	if err := c.WaitForAvailability(ctx, OpHeartbeat); err != nil {
		return err
	}
	c.mu.Lock()
	seq := c.seq
	c.mu.Unlock()
	return transport.WritePayload(ctx, Payload{Op: OpHeartbeat, D: mustSeqJSON(seq)})
}

// handleInvalidSession implements spec.md §4.8 op 9: if canResume, retry
// RESUME after ~150ms; otherwise wipe the session and IDENTIFY after
// ~150ms.
func (c *Connection) handleInvalidSession(ctx context.Context, transport Transport, p Payload) error {
	var data InvalidSessionData
	_ = json.Unmarshal(p.D, &data)

	timer := time.NewTimer(150 * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	if !data.CanResume {
		c.mu.Lock()
		c.hasSess = false
		c.session = Session{}
		c.mu.Unlock()
		// identifyOrResume would reload the stale session from the store,
		// so IDENTIFY directly.
		c.setState(StateIdentifying)
		if err := c.WaitForAvailability(ctx, OpIdentify); err != nil {
			return err
		}
		d, _ := json.Marshal(IdentifyData{Token: c.cfg.Token})
		return transport.WritePayload(ctx, Payload{Op: OpIdentify, D: d})
	}
	return c.identifyOrResume(ctx, transport)
}
