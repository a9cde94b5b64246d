// Package wsserver implements the storage fabric's server side: the
// per-connection handshake and request-loop state machine (spec.md §4.5,
// component F) and the request dispatcher that routes authenticated RPCs
// into the bucket manager and channel broker (component G). HTTP wiring
// (the /ws upgrade endpoint alongside a static health response) follows the
// teacher project's own gorilla/mux + gorilla/handlers server assembly.
package wsserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/storagefabric/fabric/bucket"
	"github.com/storagefabric/fabric/channel"
	"github.com/storagefabric/fabric/pkg/log"
)

// ValidateTokenFunc decides whether a client-presented token may
// authenticate. The default (Config zero value) accepts everything, which
// spec.md §6 calls out as unsafe for production.
type ValidateTokenFunc func(token string) bool

// AlwaysValid is the default ValidateTokenFunc; override it in production.
func AlwaysValid(string) bool { return true }

// NoAdmins is the default admin-authority check: it denies every token. The
// admin_* actions (spec.md §4.5) are destructive across every tenant, so
// unlike ValidateTokenFunc, the safe default here is closed, not open.
func NoAdmins(string) bool { return false }

// Config configures a Server. Fields left zero take the spec.md §6 default.
type Config struct {
	Port          int
	ValidateToken ValidateTokenFunc
	// IsAdminToken gates the admin_list_users, admin_delete_user, and
	// admin_user_info actions. Defaults to NoAdmins.
	IsAdminToken ValidateTokenFunc
	Logger       log.Logger
}

const DefaultPort = 3000

// Server terminates client websocket connections, drives each one's
// handshake and request loop, and owns the shared bucket manager and
// channel broker every connection's dispatcher reads through.
type Server struct {
	cfg      Config
	buckets  *bucket.Manager
	broker   *channel.Broker
	upgrader websocket.Upgrader
	logger   log.Logger

	registry *prometheus.Registry
	metrics  *serverMetrics
}

// New wires a Server around buckets and broker. Serve the http.Handler
// returned by Handler to start accepting connections.
func New(cfg Config, buckets *bucket.Manager, broker *channel.Broker) *Server {
	if cfg.ValidateToken == nil {
		cfg.ValidateToken = AlwaysValid
	}
	if cfg.IsAdminToken == nil {
		cfg.IsAdminToken = NoAdmins
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewSlogLogger(slog.Default())
	}

	registry := prometheus.NewRegistry()
	return &Server{
		cfg:     cfg,
		buckets: buckets,
		broker:  broker,
		logger:  cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		registry: registry,
		metrics:  newServerMetrics(registry),
	}
}

// Handler returns the HTTP handler for this server: the /ws upgrade
// endpoint and a static 200 for every other path (spec.md §6). Metrics are
// exposed separately, on the dedicated telemetry listener built in
// cmd/fabricd, not on this router.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/ws", s.handleUpgrade)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("WebSocket Storage Server"))
	})
	return router
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("wsserver: upgrade failed: %v", err)
		return
	}

	c := newConnection(s, conn)
	s.metrics.connectionsOpened.Inc()
	s.metrics.connectionsActive.Inc()

	go c.run(context.Background())
}

// Registerer exposes the server's prometheus registry for a caller that
// wants to merge additional collectors (e.g. process/Go runtime stats) into
// the same registry /metrics serves.
func (s *Server) Registerer() *prometheus.Registry {
	return s.registry
}
