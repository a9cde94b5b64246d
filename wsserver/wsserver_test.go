package wsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/storagefabric/fabric/bucket"
	"github.com/storagefabric/fabric/channel"
	"github.com/storagefabric/fabric/cryptosession"
	"github.com/storagefabric/fabric/pkg/log"
	"github.com/storagefabric/fabric/protocol"
)

// newTestServer requires FABRIC_REDIS_ADDR, mirroring the conformance
// suite's skip pattern in storage/redisns/redisns_test.go — this exercises the full
// handshake and request loop against a real bucket manager.
func newTestServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()
	addr := os.Getenv("FABRIC_REDIS_ADDR")
	if addr == "" {
		t.Skip("FABRIC_REDIS_ADDR not set, skipping wsserver integration test")
	}

	db := redisv8.NewUniversalClient(&redisv8.UniversalOptions{Addrs: []string{addr}})
	t.Cleanup(func() { _ = db.Close() })

	buckets := bucket.New(db, log.NewSlogLogger(slog.Default()))
	require.NoError(t, buckets.Initialize(context.Background()))

	broker := channel.New(log.NewSlogLogger(slog.Default()))
	srv := New(Config{}, buckets, broker)

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	return httpSrv, srv
}

type testClient struct {
	t       *testing.T
	conn    *websocket.Conn
	session *cryptosession.Session
}

func dial(t *testing.T, httpSrv *httptest.Server, token string) *testClient {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(protocol.NewHelloRequest(token)))

	var hello protocol.HelloResponse
	require.NoError(t, conn.ReadJSON(&hello))
	require.NotEmpty(t, hello.ChannelID)

	var enc protocol.EncryptionFrame
	require.NoError(t, conn.ReadJSON(&enc))

	secret := cryptosession.DeriveLongTermSecret(token)
	sess, err := cryptosession.UnsealSessionKey(secret, enc.EncryptionKey, enc.IV)
	require.NoError(t, err)

	return &testClient{t: t, conn: conn, session: sess}
}

func (c *testClient) request(req protocol.Request) protocol.Response {
	c.t.Helper()
	encoded, err := json.Marshal(req)
	require.NoError(c.t, err)
	wire, err := cryptosession.EncryptFrame(c.session, encoded)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(wire))

	_, raw, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	var replyWire string
	require.NoError(c.t, json.Unmarshal(raw, &replyWire))
	plaintext, err := cryptosession.DecryptFrame(c.session, replyWire)
	require.NoError(c.t, err)

	var resp protocol.Response
	require.NoError(c.t, json.Unmarshal(plaintext, &resp))
	return resp
}

func TestHandshakeAndSetGet(t *testing.T) {
	httpSrv, _ := newTestServer(t)
	client := dial(t, httpSrv, fmt.Sprintf("token-%d", time.Now().UnixNano()))
	defer client.conn.Close()

	setResp := client.request(protocol.Request{Action: protocol.ActionSet, ID: "1", Collection: "profile", Key: "name", Value: "ada"})
	require.Empty(t, setResp.Error)

	getResp := client.request(protocol.Request{Action: protocol.ActionGet, ID: "2", Collection: "profile", Key: "name"})
	require.Empty(t, getResp.Error)
}

func TestAdminActionDeniedWithoutAuthority(t *testing.T) {
	httpSrv, _ := newTestServer(t)
	client := dial(t, httpSrv, fmt.Sprintf("token-%d", time.Now().UnixNano()))
	defer client.conn.Close()

	resp := client.request(protocol.Request{Action: protocol.ActionAdminListUsers, ID: "1"})
	require.NotEmpty(t, resp.Error)
}

func TestBroadcastReachesSecondConnectionOnSameToken(t *testing.T) {
	httpSrv, _ := newTestServer(t)
	token := fmt.Sprintf("shared-%d", time.Now().UnixNano())

	a := dial(t, httpSrv, token)
	defer a.conn.Close()
	b := dial(t, httpSrv, token)
	defer b.conn.Close()

	setResp := a.request(protocol.Request{Action: protocol.ActionSet, ID: "1", Collection: "c", Key: "k", Value: "v"})
	require.Empty(t, setResp.Error)

	require.NoError(t, b.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := b.conn.ReadMessage()
	require.NoError(t, err)
	var wire string
	require.NoError(t, json.Unmarshal(raw, &wire))
	plaintext, err := cryptosession.DecryptFrame(b.session, wire)
	require.NoError(t, err)

	var evt protocol.EventFrame
	require.NoError(t, json.Unmarshal(plaintext, &evt))
	require.Equal(t, "set", evt.Event)
	require.Equal(t, "k", evt.Key)
}
