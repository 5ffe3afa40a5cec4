// Package server wires the dispatcher to its transports: WebSocket, COMMS and
// the HTTP health and metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/morezero/ws-dispatch/internal/config"
	"github.com/morezero/ws-dispatch/pkg/builtin"
	"github.com/morezero/ws-dispatch/pkg/commsutil"
	"github.com/morezero/ws-dispatch/pkg/db"
	"github.com/morezero/ws-dispatch/pkg/dispatcher"
	"github.com/morezero/ws-dispatch/pkg/events"
	"github.com/morezero/ws-dispatch/pkg/schema"
)

const logPrefix = "server:server"

// Server is the ws-dispatch orchestrator.
type Server struct {
	cfg      *config.Config
	nc       *comms.Conn
	ownsConn bool
	pool     *pgxpool.Pool
	codec    commsutil.Codec
	disp     *dispatcher.Dispatcher
	metrics  *prometheus.Registry

	upgrader   websocket.Upgrader
	httpServer *http.Server
	listener   net.Listener
	sub        *comms.Subscription

	baseCtx  context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
	wsConns  sync.Map // connection id -> *wsConn
	ready    atomic.Bool
}

// NewServerParams holds the parameters for New.
type NewServerParams struct {
	Config *config.Config
	// Conn is an existing COMMS connection. When nil and COMMS_URL is set,
	// New connects and Shutdown drains the connection.
	Conn *comms.Conn
	// Schemas is a source of stored shared schemas. When nil and
	// DATABASE_URL is set, New opens a pool and reads from the database.
	Schemas SchemaSource
}

// New builds a Server: it loads shared schemas, creates the validator and
// dispatcher and registers the builtin methods. Nothing is served until Start.
func New(ctx context.Context, params NewServerParams) (*Server, error) {
	cfg := params.Config
	if cfg == nil {
		return nil, fmt.Errorf("%s - config is required", logPrefix)
	}
	codec, err := commsutil.CodecByName(cfg.WireCodec)
	if err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}

	s := &Server{cfg: cfg, nc: params.Conn, codec: codec}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())

	src := params.Schemas
	if src == nil && cfg.DatabaseURL != "" {
		if err := s.openDatabase(ctx); err != nil {
			s.closeResources()
			return nil, err
		}
		src = db.NewRepository(s.pool)
	}

	shared, err := loadSharedSchemas(ctx, cfg, src)
	if err != nil {
		s.closeResources()
		return nil, err
	}
	validator, err := schema.NewValidator(shared...)
	if err != nil {
		s.closeResources()
		return nil, fmt.Errorf("%s - failed to load shared schemas: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Loaded shared schemas: %s", logPrefix, strings.Join(validator.SharedIDs(), ", ")))

	if s.nc == nil && cfg.COMMSURL != "" {
		nc, err := commsutil.Connect(cfg.COMMSURL, commsutil.ConnectOpts{Name: cfg.COMMSName})
		if err != nil {
			s.closeResources()
			return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
		}
		s.nc, s.ownsConn = nc, true
	}

	var publisher events.ViolationPublisher = &events.NoOpPublisher{}
	if s.nc != nil {
		publisher = events.NewCommsPublisher(s.nc, &events.CommsPublisherOpts{
			GlobalSubject: cfg.ViolationSubject,
			Codec:         codec,
		})
	}

	var metrics *dispatcher.Metrics
	if cfg.MetricsEnabled {
		s.metrics = prometheus.NewRegistry()
		s.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if metrics, err = dispatcher.NewMetrics(s.metrics); err != nil {
			s.closeResources()
			return nil, err
		}
	}

	s.disp, err = dispatcher.NewDispatcher(dispatcher.NewDispatcherParams{
		Validator: validator,
		Publisher: publisher,
		Metrics:   metrics,
	})
	if err != nil {
		s.closeResources()
		return nil, err
	}

	checks, critical := s.healthChecks()
	builtin.Register(s.disp, builtin.Options{Checks: checks, Critical: critical})

	s.upgrader = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096}
	return s, nil
}

func (s *Server) openDatabase(ctx context.Context) error {
	pool, err := db.NewPool(ctx, s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	s.pool = pool

	if s.cfg.RunMigrations {
		migrations, err := db.LoadMigrationFiles(s.cfg.MigrationPath)
		if err != nil {
			return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
		}
		if err := db.RunMigrations(ctx, pool, migrations); err != nil {
			return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
		}
	}
	return nil
}

// Dispatcher returns the dispatcher so applications can register methods
// before Start.
func (s *Server) Dispatcher() *dispatcher.Dispatcher { return s.disp }

// Handler returns the HTTP handler serving the WebSocket endpoint, the home
// page, /health, /ready and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.WSPath, s.handleWebSocket)
	if s.cfg.WSPath != "/" {
		mux.HandleFunc("/", s.handleHome())
	}
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	if s.metrics != nil {
		mux.Handle("/metrics", metricsHandler(s.metrics))
	}
	return mux
}

// Start compiles every registered schema, subscribes to the dispatch subject
// and starts the HTTP listener.
func (s *Server) Start() error {
	if err := s.disp.Precompile(); err != nil {
		return fmt.Errorf("%s - invalid method schemas: %w", logPrefix, err)
	}

	if s.nc != nil {
		if err := s.subscribeDispatch(); err != nil {
			return err
		}
	}

	ln, err := net.Listen("tcp", s.cfg.WSAddr)
	if err != nil {
		return fmt.Errorf("%s - failed to listen on %s: %w", logPrefix, s.cfg.WSAddr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		slog.Info(fmt.Sprintf("%s - Listening on %s (WebSocket %s)", logPrefix, ln.Addr(), s.cfg.WSPath))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	s.ready.Store(true)
	slog.Info(fmt.Sprintf("%s - ws-dispatch is ready with %d methods", logPrefix, len(s.disp.Registry().Methods())))
	return nil
}

// Addr returns the address the HTTP listener is bound to, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting work, closes WebSocket connections and waits for
// in-flight messages until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)

	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			slog.Warn(fmt.Sprintf("%s - unsubscribe failed: %v", logPrefix, err))
		}
	}
	var shutdownErr error
	if s.httpServer != nil {
		shutdownErr = s.httpServer.Shutdown(ctx)
	}
	s.closeWebSockets()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn(fmt.Sprintf("%s - shutdown deadline reached with messages in flight", logPrefix))
		shutdownErr = errors.Join(shutdownErr, ctx.Err())
	}

	s.cancel()
	s.closeResources()
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return shutdownErr
}

func (s *Server) closeResources() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.nc != nil && s.ownsConn {
		if err := s.nc.Drain(); err != nil {
			s.nc.Close()
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// SetupLogging installs the default slog text handler at the given level.
func SetupLogging(level string) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	SetupLogging(cfg.LogLevel)
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting ws-dispatch", logPrefix))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	s, err := New(ctx, NewServerParams{Config: cfg})
	cancel()
	if err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		s.Shutdown(shutdownCtx)
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	return s.Shutdown(shutdownCtx)
}
