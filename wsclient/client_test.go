package wsclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/storagefabric/fabric/bucket"
	"github.com/storagefabric/fabric/channel"
	"github.com/storagefabric/fabric/pkg/log"
	"github.com/storagefabric/fabric/storage"
	"github.com/storagefabric/fabric/wsserver"
)

// newTestServer requires FABRIC_REDIS_ADDR, mirroring the conformance
// suite's skip pattern in storage/redisns/redisns_test.go.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	addr := os.Getenv("FABRIC_REDIS_ADDR")
	if addr == "" {
		t.Skip("FABRIC_REDIS_ADDR not set, skipping wsclient integration test")
	}

	db := redisv8.NewUniversalClient(&redisv8.UniversalOptions{Addrs: []string{addr}})
	t.Cleanup(func() { _ = db.Close() })

	buckets := bucket.New(db, log.NewSlogLogger(slog.Default()))
	require.NoError(t, buckets.Initialize(context.Background()))

	broker := channel.New(log.NewSlogLogger(slog.Default()))
	srv := wsserver.New(wsserver.Config{}, buckets, broker)

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	return httpSrv
}

func dialClient(t *testing.T, httpSrv *httptest.Server, token string) *Adapter {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	client, err := Dial(context.Background(), Config{URL: wsURL, Token: token})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestSetGetDeleteRoundTrip(t *testing.T) {
	httpSrv := newTestServer(t)
	client := dialClient(t, httpSrv, fmt.Sprintf("wsclient-%d", time.Now().UnixNano()))

	ctx := context.Background()
	require.NoError(t, client.Set(ctx, "profile", "name", "grace"))

	value, found, err := client.Get(ctx, "profile", "name")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "grace", value)

	removed, err := client.Delete(ctx, "profile", "name")
	require.NoError(t, err)
	require.True(t, removed)

	_, found, err = client.Get(ctx, "profile", "name")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRemoteEventDeliveredToSecondClient(t *testing.T) {
	httpSrv := newTestServer(t)
	token := fmt.Sprintf("wsclient-shared-%d", time.Now().UnixNano())

	writer := dialClient(t, httpSrv, token)
	reader := dialClient(t, httpSrv, token)

	remoteEvents := make(chan storage.Event, 1)
	reader.On(storage.EventRemote, func(ev storage.Event) {
		remoteEvents <- ev
	})

	require.NoError(t, writer.Set(context.Background(), "c", "k", "v"))

	select {
	case ev := <-remoteEvents:
		require.Equal(t, "k", ev.Key)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for remote event")
	}
}
