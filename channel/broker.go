// Package channel implements the broadcast-group membership and fan-out
// described in spec.md §4.4 (component D): per-channel connection sets, join
// and leave, and sender-excluded broadcast. Each recipient gets one
// long-lived outbox worker (started at Join, stopped at Leave) draining a
// bounded, ordered mailbox, rather than a fresh goroutine per event — this
// is what spec.md §5/§9 requires: events from one source must reach each
// recipient in the order they were dispatched, which an ephemeral
// goroutine-per-send cannot guarantee once two broadcasts race. The shape
// (a channel → members map guarded by sync.RWMutex, one outbound worker per
// recipient so a slow peer cannot stall the others) follows the websocket
// hub implementations in this project's reference corpus.
package channel

import (
	"sync"

	"github.com/storagefabric/fabric/pkg/log"
)

// mailboxSize bounds how many undelivered events queue for one recipient
// before Broadcast starts dropping rather than blocking the broadcaster.
const mailboxSize = 256

// Sender is anything broker can deliver an event to: a live connection.
// Implementations must be safe to call concurrently with themselves and
// with the rest of their own connection's lifecycle.
type Sender interface {
	// ID uniquely identifies this connection for membership bookkeeping
	// and for excluding the originator from its own broadcast.
	ID() string
	// Send delivers one outbound event. Broker calls Send from a single
	// per-recipient worker goroutine, never concurrently with itself, so
	// an implementation need not guard against concurrent Send calls —
	// only against Send racing the rest of its own connection's
	// lifecycle.
	Send(event interface{}) error
}

// recipient is one channel member's outbox: a bounded, ordered mailbox
// drained by a single worker goroutine for the lifetime of the membership.
type recipient struct {
	sender  Sender
	mailbox chan interface{}
	stop    chan struct{}
}

// Broker owns the channel-id → membership-set mapping and fans broadcasts
// out to every member but the sender.
type Broker struct {
	mu       sync.RWMutex
	channels map[string]map[string]*recipient

	logger log.Logger
}

// New returns an empty Broker.
func New(logger log.Logger) *Broker {
	return &Broker{
		channels: make(map[string]map[string]*recipient),
		logger:   logger,
	}
}

// Join adds conn to channelID's membership set, creating the set on first
// join, and starts conn's outbox worker. Joining the same conn twice for the
// same channelID is a no-op on the second call.
func (b *Broker) Join(channelID string, conn Sender) {
	b.mu.Lock()
	members, ok := b.channels[channelID]
	if !ok {
		members = make(map[string]*recipient)
		b.channels[channelID] = members
	}
	if _, exists := members[conn.ID()]; exists {
		b.mu.Unlock()
		return
	}
	r := &recipient{
		sender:  conn,
		mailbox: make(chan interface{}, mailboxSize),
		stop:    make(chan struct{}),
	}
	members[conn.ID()] = r
	b.mu.Unlock()

	go b.deliverLoop(r)
}

// Leave removes conn from channelID's membership set, dropping the set
// entirely once it is empty, and stops conn's outbox worker.
func (b *Broker) Leave(channelID string, conn Sender) {
	b.mu.Lock()
	defer b.mu.Unlock()

	members, ok := b.channels[channelID]
	if !ok {
		return
	}
	r, ok := members[conn.ID()]
	if !ok {
		return
	}
	delete(members, conn.ID())
	if len(members) == 0 {
		delete(b.channels, channelID)
	}
	close(r.stop)
}

// deliverLoop is the single worker that owns calling Send for one
// recipient, in the order events were enqueued onto its mailbox.
func (b *Broker) deliverLoop(r *recipient) {
	for {
		select {
		case event := <-r.mailbox:
			if err := r.sender.Send(event); err != nil {
				b.logger.Warnf("channel: broadcast to %s failed: %v", r.sender.ID(), err)
			}
		case <-r.stop:
			return
		}
	}
}

// Broadcast enqueues event onto the mailbox of every live member of
// channelID except exceptID (pass "" to exclude nobody). Broadcast never
// blocks: a recipient whose mailbox is full is considered wedged and the
// event is dropped for it rather than stalling delivery to the rest of the
// channel. Because each recipient has exactly one worker draining its
// mailbox in enqueue order, two broadcasts from the same source reach a
// given recipient in the order Broadcast was called for them.
func (b *Broker) Broadcast(channelID string, exceptID string, event interface{}) {
	b.mu.RLock()
	members := b.channels[channelID]
	recipients := make([]*recipient, 0, len(members))
	for id, r := range members {
		if id == exceptID {
			continue
		}
		recipients = append(recipients, r)
	}
	b.mu.RUnlock()

	for _, r := range recipients {
		select {
		case r.mailbox <- event:
		default:
			b.logger.Warnf("channel: mailbox full for %s, dropping event", r.sender.ID())
		}
	}
}

// MemberCount reports the current membership size of channelID, for
// metrics and tests.
func (b *Broker) MemberCount(channelID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channelID])
}
