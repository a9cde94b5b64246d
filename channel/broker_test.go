package channel

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/storagefabric/fabric/pkg/log"
)

type fakeSender struct {
	id       string
	mu       sync.Mutex
	received []interface{}
}

func (f *fakeSender) ID() string { return f.id }

func (f *fakeSender) Send(event interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, event)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func newTestBroker() *Broker {
	return New(log.NewSlogLogger(slog.Default()))
}

func TestBroadcastExcludesSender(t *testing.T) {
	b := newTestBroker()
	origin := &fakeSender{id: "a"}
	peer1 := &fakeSender{id: "b"}
	peer2 := &fakeSender{id: "c"}

	b.Join("chan1", origin)
	b.Join("chan1", peer1)
	b.Join("chan1", peer2)

	b.Broadcast("chan1", origin.ID(), "event")
	require.Eventually(t, func() bool {
		return peer1.count() == 1 && peer2.count() == 1
	}, time.Second, time.Millisecond)

	require.Zero(t, origin.count())
}

func TestLeaveRemovesEmptyChannel(t *testing.T) {
	b := newTestBroker()
	conn := &fakeSender{id: "a"}
	b.Join("chan1", conn)
	require.Equal(t, 1, b.MemberCount("chan1"))

	b.Leave("chan1", conn)
	require.Zero(t, b.MemberCount("chan1"))
}

func TestBroadcastToUnknownChannelIsNoop(t *testing.T) {
	b := newTestBroker()
	require.NotPanics(t, func() { b.Broadcast("nope", "", "event") })
}
