// Package transport exposes the platform over HTTP. Three adapters (gin,
// hand-rolled net/http and gorilla/mux) route the same API and must be
// indistinguishable to clients.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	NameFramework = "framework"
	NameRaw       = "raw"
	NameRouter    = "router"

	shutdownTimeout = 5 * time.Second
)

// NewHandler builds the named adapter's handler.
func NewHandler(name string, a *API) (http.Handler, error) {
	switch name {
	case NameFramework:
		return NewFrameworkHandler(a), nil
	case NameRaw:
		return NewRawHandler(a), nil
	case NameRouter:
		return NewRouterHandler(a), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}
}

type ServerOptions struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Transport runs one adapter on its own listener.
type Transport struct {
	name    string
	addr    string
	handler http.Handler
	opts    ServerOptions
	logger  *zap.Logger

	mu     sync.Mutex
	server *http.Server
	ln     net.Listener
	done   chan struct{}
}

func New(name, addr string, a *API, opts ServerOptions) (*Transport, error) {
	h, err := NewHandler(name, a)
	if err != nil {
		return nil, err
	}
	return &Transport{
		name:    name,
		addr:    addr,
		handler: h,
		opts:    opts,
		logger:  a.logger.Named(name),
	}, nil
}

func (t *Transport) Name() string { return t.name }

func (t *Transport) Handler() http.Handler { return t.handler }

// Addr returns the bound address once started, the configured one before.
func (t *Transport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln != nil {
		return t.ln.Addr().String()
	}
	return t.addr
}

// Start binds the listener and serves in the background. Bind errors are
// returned synchronously.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.server != nil {
		return fmt.Errorf("%s: already started", t.name)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", t.addr, err)
	}

	t.server = &http.Server{
		Handler:           t.handler,
		ReadHeaderTimeout: t.opts.ReadTimeout,
		ReadTimeout:       t.opts.ReadTimeout,
		WriteTimeout:      t.opts.WriteTimeout,
		ErrorLog:          zap.NewStdLog(t.logger),

		// "OPTIONS *" must reach the handler so it gets CORS headers
		DisableGeneralOptionsHandler: true,
	}
	t.ln = ln
	t.done = make(chan struct{})

	srv, done := t.server, t.done
	go func() {
		defer close(done)
		t.logger.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down, waiting up to five seconds for in-flight
// requests.
func (t *Transport) Stop() error {
	t.mu.Lock()
	srv, done := t.server, t.done
	t.server = nil
	t.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	<-done
	t.logger.Info("stopped")
	return err
}
