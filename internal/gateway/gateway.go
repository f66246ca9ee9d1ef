package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/stellarlinkco/aiplatform/internal/catalog"
	"github.com/stellarlinkco/aiplatform/internal/config"
	"github.com/stellarlinkco/aiplatform/internal/cron"
	"github.com/stellarlinkco/aiplatform/internal/platform"
	"github.com/stellarlinkco/aiplatform/internal/store"
	"github.com/stellarlinkco/aiplatform/internal/transport"
)

const (
	jobCatalogRefresh = "catalog-refresh"
	jobStatsReport    = "stats-report"
)

// StoreFactory opens the state backend (allows injection in tests)
type StoreFactory func(cfg config.StoreConfig) (store.Backend, error)

// Options for creating a Gateway
type Options struct {
	Logger       *zap.Logger
	StoreFactory StoreFactory
	SignalChan   chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg        *config.Config
	logger     *zap.Logger
	backend    store.Backend
	catalog    *catalog.Catalog
	platform   *platform.Platform
	transports *transport.Manager
	cron       *cron.Service
	signalChan chan os.Signal

	shutdownOnce sync.Once
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions builds every component but binds nothing; Run starts them.
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		cfg:        cfg,
		logger:     logger.Named("gateway"),
		signalChan: opts.SignalChan,
	}

	// Catalog: an invalid system config is fatal at startup
	g.catalog = catalog.New(cfg.Catalog.SystemConfig, cfg.Catalog.Tools, logger.Named("catalog"))
	if err := g.catalog.Load(); err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	factory := opts.StoreFactory
	if factory == nil {
		factory = store.Open
	}
	backend, err := factory(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	g.backend = backend

	g.platform = platform.New(backend.Memory(), backend.Plans(), g.catalog)

	api := transport.NewAPI(g.platform, transport.OptionsFromConfig(cfg.Server, logger.Named("api")))
	mgr, err := transport.NewManager(cfg, api)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("create transport manager: %w", err)
	}
	g.transports = mgr

	g.cron = cron.NewService(logger.Named("cron"))
	if cfg.Cron.Enabled {
		if err := g.addJobs(); err != nil {
			_ = backend.Close()
			return nil, err
		}
	}

	return g, nil
}

func (g *Gateway) addJobs() error {
	if expr := g.cfg.Catalog.RefreshSchedule; expr != "" {
		if _, err := g.cron.AddJob(jobCatalogRefresh, expr, g.refreshCatalog); err != nil {
			return fmt.Errorf("add %s job: %w", jobCatalogRefresh, err)
		}
	}
	if expr := g.cfg.Cron.StatsSchedule; expr != "" {
		if _, err := g.cron.AddJob(jobStatsReport, expr, g.reportStats); err != nil {
			return fmt.Errorf("add %s job: %w", jobStatsReport, err)
		}
	}
	return nil
}

func (g *Gateway) refreshCatalog(context.Context) (string, error) {
	if err := g.catalog.Reload(); err != nil {
		return "", err
	}
	st := g.catalog.Status()
	return fmt.Sprintf("source=%s tools=%d", st.Source, st.Tools), nil
}

func (g *Gateway) reportStats(ctx context.Context) (string, error) {
	stats, err := g.platform.Stats(ctx)
	if err != nil {
		return "", err
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	g.logger.Info("platform stats",
		zap.Int("memories", stats.Memories),
		zap.Int("plans", stats.Plans),
		zap.Int("tools", stats.Tools),
		zap.Uint64("heapUsed", ms.HeapAlloc),
		zap.Int("goroutines", runtime.NumGoroutine()),
	)
	return fmt.Sprintf("memories=%d plans=%d tools=%d", stats.Memories, stats.Plans, stats.Tools), nil
}

// Run starts the transports and background jobs, then blocks until a
// termination signal arrives or ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := g.transports.StartAll(ctx); err != nil {
		_ = g.Shutdown()
		return fmt.Errorf("start transports: %w", err)
	}
	for _, name := range g.transports.Enabled() {
		t, _ := g.transports.Get(name)
		g.logger.Info("transport ready", zap.String("transport", name), zap.String("addr", t.Addr()))
	}

	if err := g.cron.Start(ctx); err != nil {
		g.logger.Warn("cron start warning", zap.Error(err))
	}

	g.platform.MarkInitialized()
	g.logger.Info("running",
		zap.String("mode", g.cfg.Server.Mode),
		zap.String("store", g.cfg.Store.Backend),
		zap.Strings("transports", g.transports.Enabled()),
	)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case sig := <-sigCh:
		g.logger.Info("signal received", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	g.logger.Info("shutting down...")
	return g.Shutdown()
}

// Shutdown stops jobs first, then transports, then closes the store. It is
// safe to call more than once.
func (g *Gateway) Shutdown() error {
	var err error
	g.shutdownOnce.Do(func() {
		g.cron.Stop()
		_ = g.transports.StopAll()
		if cerr := g.backend.Close(); cerr != nil {
			g.logger.Warn("close store warning", zap.Error(cerr))
			err = cerr
		}
		g.logger.Info("shutdown complete")
	})
	return err
}

func (g *Gateway) Platform() *platform.Platform { return g.platform }

func (g *Gateway) Transports() *transport.Manager { return g.transports }

func (g *Gateway) Jobs() []cron.Job { return g.cron.ListJobs() }
