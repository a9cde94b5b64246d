package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	gosundheit "github.com/AppsFlyer/go-sundheit"
	"github.com/AppsFlyer/go-sundheit/checks"
	gosundheithttp "github.com/AppsFlyer/go-sundheit/http"
	"github.com/ghodss/yaml"
	redisv8 "github.com/go-redis/redis/v8"
	"github.com/gorilla/handlers"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/storagefabric/fabric/bucket"
	"github.com/storagefabric/fabric/channel"
	"github.com/storagefabric/fabric/pkg/log"
	"github.com/storagefabric/fabric/wsserver"
)

type serveOptions struct {
	config string

	port          int
	telemetryAddr string
}

func commandServe() *cobra.Command {
	options := serveOptions{}

	cmd := &cobra.Command{
		Use:     "serve [flags] [config file]",
		Short:   "Launch the storage fabric server",
		Example: "fabricd serve config.yaml",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			options.config = args[0]
			return runServe(options)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&options.port, "port", 0, "websocket listen port (overrides config)")
	flags.StringVar(&options.telemetryAddr, "telemetry-addr", "", "telemetry (metrics/health) address (overrides config)")

	return cmd
}

func applyConfigOverrides(options serveOptions, c *Config) {
	if options.port != 0 {
		c.Port = options.port
	}
	if options.telemetryAddr != "" {
		c.Telemetry.HTTP = options.telemetryAddr
	}
}

// serverRunner wires one *http.Server into an oklog/run.Group actor,
// matching the teacher project's graceful-shutdown idiom exactly: the
// listener is opened eagerly (so bind failures surface before the group
// runs), and shutdown gets a bounded grace period.
type serverRunner struct {
	name string
	srv  *http.Server

	logger log.Logger
}

func newServerRunner(name string, srv *http.Server, logger log.Logger) *serverRunner {
	return &serverRunner{name: name, srv: srv, logger: logger}
}

func (s *serverRunner) RunAndShutdownGracefully(gr *run.Group) error {
	listener, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening (%s) on %s: %v", s.name, s.srv.Addr, err)
	}

	gr.Add(func() error {
		s.logger.Infof("listening (%s) on %s", s.name, s.srv.Addr)
		return s.srv.Serve(listener)
	}, func(err error) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		s.logger.Debugf("starting graceful shutdown (%s)", s.name)
		if err := s.srv.Shutdown(ctx); err != nil {
			s.logger.Errorf("graceful shutdown (%s): %v", s.name, err)
		}
	})
	return nil
}

func runServe(options serveOptions) error {
	configData, err := os.ReadFile(options.config)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %v", options.config, err)
	}

	var c Config
	if err := yaml.Unmarshal(configData, &c); err != nil {
		return fmt.Errorf("error parsing config file %s: %v", options.config, err)
	}
	if err := replaceEnvKeys(&c, os.Getenv); err != nil {
		return fmt.Errorf("substituting env vars into config: %v", err)
	}

	c.applyDefaults()
	applyConfigOverrides(options, &c)

	logger, err := newLogger(c.Logger)
	if err != nil {
		return fmt.Errorf("invalid config: %v", err)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	logger.Infof("config: port=%d storage=%s telemetry=%s", c.Port, c.Storage.URL, c.Telemetry.HTTP)

	opt, err := redisv8.ParseURL(c.Storage.URL)
	if err != nil {
		return fmt.Errorf("invalid storage url: %v", err)
	}
	if c.Storage.Database != 0 {
		opt.DB = c.Storage.Database
	}
	redisv8.SetLogger(redisLogAdapter{logger: redisLogger(c.Logger.Level)})
	db := redisv8.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.Ping(ctx).Err(); err != nil {
		cancel()
		return fmt.Errorf("connecting to storage: %v", err)
	}
	cancel()

	buckets := bucket.New(db, logger)
	if err := buckets.Initialize(context.Background()); err != nil {
		return fmt.Errorf("hydrating tenant index: %v", err)
	}

	broker := channel.New(logger)

	validateToken := tokenValidator(c)
	isAdminToken := adminTokenValidator(c)

	srv := wsserver.New(wsserver.Config{
		Port:          c.Port,
		ValidateToken: validateToken,
		IsAdminToken:  isAdminToken,
		Logger:        logger,
	}, buckets, broker)

	// The server's own registry (connection/request metrics) also carries
	// the process-wide Go/process collectors, so one /metrics endpoint on
	// the telemetry listener reports everything.
	registry := srv.Registerer()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	healthChecker := gosundheit.New()
	healthChecker.RegisterCheck(&gosundheit.Config{
		Check: &checks.CustomCheck{
			CheckName: "storage",
			CheckFunc: func(ctx context.Context) (interface{}, error) {
				return nil, db.Ping(ctx).Err()
			},
		},
		ExecutionPeriod:  15 * time.Second,
		InitiallyPassing: true,
	})

	telemetryRouter := http.NewServeMux()
	telemetryRouter.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	healthHandler := gosundheithttp.HandleHealthJSON(healthChecker)
	telemetryRouter.Handle("/healthz", healthHandler)
	telemetryRouter.HandleFunc("/healthz/live", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	telemetryRouter.Handle("/healthz/ready", healthHandler)

	var gr run.Group

	if c.Telemetry.HTTP != "" {
		telemetrySrv := &http.Server{
			Addr:    c.Telemetry.HTTP,
			Handler: handlers.CombinedLoggingHandler(log.Writer(logger), telemetryRouter),
		}
		defer telemetrySrv.Close()
		if err := newServerRunner("http/telemetry", telemetrySrv, logger).RunAndShutdownGracefully(&gr); err != nil {
			return err
		}
	}

	wsSrv := &http.Server{Addr: fmt.Sprintf(":%d", c.Port), Handler: srv.Handler()}
	defer wsSrv.Close()
	if err := newServerRunner("http/ws", wsSrv, logger).RunAndShutdownGracefully(&gr); err != nil {
		return err
	}

	gcCtx, cancelGC := context.WithCancel(context.Background())
	gr.Add(func() error {
		logger.Infof("bucket GC: sweeping idle tenants every %s (idle threshold %s)", bucket.DefaultGCInterval, bucket.DefaultIdleThreshold)
		buckets.RunGC(gcCtx, bucket.DefaultGCInterval, bucket.DefaultIdleThreshold)
		return nil
	}, func(error) {
		cancelGC()
	})

	gr.Add(run.SignalHandler(context.Background(), os.Interrupt, syscall.SIGTERM))

	if err := gr.Run(); err != nil {
		if _, ok := err.(run.SignalError); !ok {
			return fmt.Errorf("run groups: %w", err)
		}
		logger.Infof("%v, shutdown now", err)
	}
	return nil
}

// tokenValidator turns the config's closed-by-default token allowlist into
// a wsserver.ValidateTokenFunc.
func tokenValidator(c Config) wsserver.ValidateTokenFunc {
	if c.AllowAllTokens {
		return wsserver.AlwaysValid
	}
	allowed := make(map[string]bool, len(c.AllowedTokens))
	for _, t := range c.AllowedTokens {
		allowed[t] = true
	}
	return func(token string) bool { return allowed[token] }
}

// isBcryptHash reports whether configured looks like a bcrypt hash rather
// than a plaintext admin token, the same "$2" prefix sniff the teacher
// project's static password store relies on bcrypt.Cost to validate further.
func isBcryptHash(configured string) bool {
	return len(configured) > 3 && configured[0] == '$' && configured[1] == '2'
}

// adminTokenValidator turns the config's admin token list into a
// wsserver.ValidateTokenFunc; an empty list reproduces wsserver.NoAdmins.
// Each configured entry may be a plaintext token or a bcrypt hash, checked
// with bcrypt.CompareHashAndPassword the way cmd/dex/config.go checks a
// static password's Hash against the presented password.
func adminTokenValidator(c Config) wsserver.ValidateTokenFunc {
	if len(c.AdminTokens) == 0 {
		return wsserver.NoAdmins
	}

	plaintext := make(map[string]bool)
	var hashes [][]byte
	for _, t := range c.AdminTokens {
		if isBcryptHash(t) {
			hashes = append(hashes, []byte(t))
			continue
		}
		plaintext[t] = true
	}

	return func(token string) bool {
		if plaintext[token] {
			return true
		}
		for _, hash := range hashes {
			if bcrypt.CompareHashAndPassword(hash, []byte(token)) == nil {
				return true
			}
		}
		return false
	}
}
