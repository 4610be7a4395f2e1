package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tutu-network/poco/internal/api"
	"github.com/tutu-network/poco/internal/app/callback"
	"github.com/tutu-network/poco/internal/app/poco"
	"github.com/tutu-network/poco/internal/domain"
	"github.com/tutu-network/poco/internal/health"
	"github.com/tutu-network/poco/internal/infra/clock"
	"github.com/tutu-network/poco/internal/infra/eventbus"
	"github.com/tutu-network/poco/internal/infra/memstore"
	"github.com/tutu-network/poco/internal/infra/metrics"
	"github.com/tutu-network/poco/internal/infra/registry"
	"github.com/tutu-network/poco/internal/infra/sqlite"
	"github.com/tutu-network/poco/internal/security"
)

// Daemon is the settlement node runtime. It wires together all services.
type Daemon struct {
	Config   Config
	Log      *zap.Logger
	Store    domain.Store
	DB       *sqlite.DB // nil with the memory driver
	Registry *registry.Static
	Bus      *eventbus.Bus
	Engine   *poco.Engine
	Health   *health.Checker
	Server   *api.Server
	Keypair  *security.Keypair
	NodeID   string

	cancel context.CancelFunc
}

// New creates and initializes a Daemon from the config file.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	d := &Daemon{Config: cfg, Log: logger}
	if err := d.wire(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) wire() error {
	cfg := d.Config

	// Storage
	switch cfg.Storage.Driver {
	case DriverMemory:
		d.Store = memstore.New()
	default:
		db, err := sqlite.Open(cfg.Node.DataDir)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		d.DB = db
		d.Store = db
	}

	// Node identity (secp256k1)
	kp, err := security.LoadOrCreateKeypair(cfg.Node.DataDir)
	if err != nil {
		d.Log.Warn("failed to load node keypair", zap.Error(err))
	}
	d.Keypair = kp
	d.NodeID = cfg.Node.ID
	if d.NodeID == "" && kp != nil {
		d.NodeID = "node-" + kp.Address().Hex()[2:18]
	}
	if d.NodeID == "" {
		d.NodeID = "node-local"
	}
	if d.DB != nil {
		if err := d.DB.SetNodeInfo("node_id", d.NodeID); err != nil {
			return fmt.Errorf("store node id: %w", err)
		}
	}

	// Registry
	reg, err := registry.FromConfig(cfg.Config)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	d.Registry = reg

	// Events
	d.Bus = eventbus.New(d.Log)
	if err := d.Bus.SubscribeBatch(metrics.Observe); err != nil {
		return fmt.Errorf("subscribe metrics: %w", err)
	}

	// Callbacks
	timeout, err := cfg.CallbackTimeout()
	if err != nil {
		return err
	}
	consumers := callback.NewRegistry()
	client := &http.Client{Timeout: max(timeout, callback.DefaultTimeout)}
	for _, cc := range cfg.Callback.Consumers {
		consumers.Register(cc.Address, &callback.HTTPConsumer{URL: cc.URL, Client: client})
	}

	// Engine
	d.Engine, err = poco.New(poco.Config{
		Store:      d.Store,
		Clock:      clock.System{},
		Hasher:     security.NewHasher(cfg.Domain),
		Assets:     reg,
		Categories: reg,
		Groups:     reg,
		Signatures: reg,
		Policy:     cfg.Policy,
		Publisher:  d.Bus,
		Forwarder:  callback.NewForwarder(consumers, timeout, d.Log),
		Log:        d.Log,
	})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	// Health
	checks := []health.Check{
		health.DataDirCheck(cfg.Node.DataDir),
		health.InvariantCheck(d.Engine.CheckInvariants),
	}
	if d.DB != nil {
		checks = append(checks, health.StoreCheck(d.DB))
	}
	d.Health = health.NewChecker(d.Log, checks...)

	// API
	d.Server = api.NewServer(d.Engine, api.Options{
		AdminToken:  cfg.API.AdminToken,
		CORSOrigins: cfg.API.CORSOrigins,
		Health:      d.Health,
		Log:         d.Log,
	})
	if cfg.Telemetry.Prometheus {
		d.Server.EnableMetrics()
	}
	return nil
}

// Serve starts the HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Health.Run(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	d.Log.Info("serving",
		zap.String("addr", addr),
		zap.String("node", d.NodeID),
		zap.String("storage", d.Config.Storage.Driver),
		zap.Bool("metrics", d.Config.Telemetry.Prometheus))

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close shuts down all daemon resources. Pending callbacks are drained
// before the store closes.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Engine != nil {
		d.Engine.Close()
	}
	if d.Bus != nil {
		d.Bus.WaitAsync()
	}
	if d.Store != nil {
		_ = d.Store.Close()
	}
	if d.Log != nil {
		_ = d.Log.Sync()
	}
}
