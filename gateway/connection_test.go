package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-memory Transport driven entirely by channels, so
// Connection's FSM can be exercised without a real network socket.
type fakeTransport struct {
	toClient   chan Payload
	fromClient chan Payload
	closed     chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		toClient:   make(chan Payload, 8),
		fromClient: make(chan Payload, 8),
		closed:     make(chan struct{}),
	}
}

func (f *fakeTransport) ReadPayload(ctx context.Context) (Payload, error) {
	select {
	case p := <-f.toClient:
		return p, nil
	case <-f.closed:
		return Payload{}, context.Canceled
	case <-ctx.Done():
		return Payload{}, ctx.Err()
	}
}

func (f *fakeTransport) WritePayload(ctx context.Context, p Payload) error {
	select {
	case f.fromClient <- p:
		return nil
	case <-f.closed:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func intPtr(n int) *int { return &n }

// runFakeServer drives the handshake (HELLO -> expects identify -> READY)
// and then acks every heartbeat it receives, until stop fires.
func runFakeServer(t *testing.T, ft *fakeTransport, heartbeatMS int, stop <-chan struct{}) {
	t.Helper()
	go func() {
		helloData, _ := json.Marshal(HelloData{HeartbeatIntervalMS: heartbeatMS})
		select {
		case ft.toClient <- Payload{Op: OpHello, D: helloData}:
		case <-stop:
			return
		}

		select {
		case <-ft.fromClient: // identify
		case <-stop:
			return
		}

		seq := 1
		readyData, _ := json.Marshal(ReadyData{SessionID: "sess-1", ResumeGatewayURL: "ws://resume"})
		select {
		case ft.toClient <- Payload{Op: OpDispatch, T: "READY", D: readyData, S: &seq}:
		case <-stop:
			return
		}

		for {
			select {
			case <-ft.fromClient: // heartbeat
				select {
				case ft.toClient <- Payload{Op: OpHeartbeatAck}:
				case <-stop:
					return
				}
			case <-stop:
				return
			}
		}
	}()
}

func TestConnectionReachesReadyAndHeartbeats(t *testing.T) {
	ft := newFakeTransport()
	stop := make(chan struct{})
	defer close(stop)
	runFakeServer(t, ft, 50, stop)

	conn := New(Config{
		URL:   "fake://test",
		Token: "tok",
		Dial:  func(ctx context.Context, url string) (Transport, error) { return ft, nil },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	require.Eventually(t, func() bool {
		return conn.State() == StateReady
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestHeartbeatAckTimeoutTriggersReconnect(t *testing.T) {
	ft := newFakeTransport()

	go func() {
		helloData, _ := json.Marshal(HelloData{HeartbeatIntervalMS: 30})
		ft.toClient <- Payload{Op: OpHello, D: helloData}
		<-ft.fromClient // identify

		seq := 1
		readyData, _ := json.Marshal(ReadyData{SessionID: "sess-1"})
		ft.toClient <- Payload{Op: OpDispatch, T: "READY", D: readyData, S: &seq}
		// never ack the heartbeat that follows
	}()

	conn := New(Config{
		URL:   "fake://test",
		Token: "tok",
		Dial: func(ctx context.Context, url string) (Transport, error) {
			return ft, nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	go func() { _ = conn.Run(ctx) }()

	require.Eventually(t, func() bool {
		return conn.State() == StateReconnecting
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconnectDelaySequenceMatchesSpec(t *testing.T) {
	require.Equal(t, 400*time.Millisecond, reconnectDelay(1))
	require.Equal(t, 800*time.Millisecond, reconnectDelay(2))
	require.Equal(t, 1600*time.Millisecond, reconnectDelay(3))
	require.Equal(t, 3200*time.Millisecond, reconnectDelay(4))
	require.Equal(t, 5*time.Second, reconnectDelay(5))
}

func TestWaitForAvailabilityRespectsRecordedRetry(t *testing.T) {
	conn := New(Config{URL: "fake://test", Token: "tok"})
	conn.limiter.record(OpHeartbeat, 50*time.Millisecond)

	start := time.Now()
	require.NoError(t, conn.WaitForAvailability(context.Background(), OpHeartbeat))
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}
