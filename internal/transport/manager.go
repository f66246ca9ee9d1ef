package transport

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stellarlinkco/aiplatform/internal/config"
)

type Manager struct {
	transports map[string]*Transport
	logger     *zap.Logger
}

// NewManager creates one Transport per enabled adapter in cfg.
func NewManager(cfg *config.Config, a *API) (*Manager, error) {
	m := &Manager{
		transports: make(map[string]*Transport),
		logger:     a.logger.Named("transport-mgr"),
	}
	opts := ServerOptions{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}
	for name, port := range cfg.EnabledTransports() {
		addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(port))
		t, err := New(name, addr, a, opts)
		if err != nil {
			return nil, fmt.Errorf("init %s transport: %w", name, err)
		}
		m.transports[name] = t
	}
	return m, nil
}

// StartAll starts every transport. If any fails to bind, the ones that did
// start are stopped again.
func (m *Manager) StartAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for name, t := range m.transports {
		g.Go(func() error {
			m.logger.Info("starting", zap.String("transport", name))
			if err := t.Start(gctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_ = m.StopAll()
		return err
	}
	return nil
}

func (m *Manager) StopAll() error {
	var firstErr error
	for _, name := range m.Enabled() {
		m.logger.Info("stopping", zap.String("transport", name))
		if err := m.transports[name].Stop(); err != nil {
			m.logger.Error("stop failed", zap.String("transport", name), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Enabled returns the configured transport names, sorted.
func (m *Manager) Enabled() []string {
	names := make([]string, 0, len(m.transports))
	for name := range m.transports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) Get(name string) (*Transport, bool) {
	t, ok := m.transports[name]
	return t, ok
}
