// Package gateway owns the process lifecycle of the voice bridge: it serves
// the HTTP API, watches the call server's health, and supports clean
// start/stop so the host agent can restart the channel without a new process.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// HealthChecker reports whether the call server is reachable.
type HealthChecker interface {
	Health(ctx context.Context) bool
}

// Status is a point-in-time snapshot of the gateway.
type Status struct {
	Running           bool      `json:"running"`
	Addr              string    `json:"addr,omitempty"`
	LastStartAt       time.Time `json:"last_start_at,omitempty"`
	LastStopAt        time.Time `json:"last_stop_at,omitempty"`
	LastError         string    `json:"last_error,omitempty"`
	CallServerHealthy bool      `json:"call_server_healthy"`
}

type Gateway struct {
	handler  http.Handler
	probe    HealthChecker
	port     int
	interval time.Duration

	mu     sync.Mutex
	server *http.Server
	cancel context.CancelFunc
	status Status
}

func New(handler http.Handler, probe HealthChecker, port int, interval time.Duration) *Gateway {
	return &Gateway{
		handler:  handler,
		probe:    probe,
		port:     port,
		interval: interval,
	}
}

// Start binds the listen socket and begins serving. Binding happens
// synchronously so a port conflict surfaces here, not in a goroutine log.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.server != nil {
		return errors.New("gateway already running")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", g.port))
	if err != nil {
		g.status.LastError = err.Error()
		return fmt.Errorf("listen: %w", err)
	}

	srv := &http.Server{Handler: g.handler}
	g.server = srv
	g.status.Running = true
	g.status.Addr = ln.Addr().String()
	g.status.LastStartAt = time.Now().UTC()
	g.status.LastError = ""

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("gateway: serve failed", "error", err)
			g.mu.Lock()
			g.status.Running = false
			g.status.LastError = err.Error()
			g.mu.Unlock()
		}
	}()
	go g.healthLoop(ctx)

	slog.Info("gateway: started", "addr", g.status.Addr)
	return nil
}

// Stop shuts the server down gracefully, releasing the socket so a
// subsequent Start can rebind the same port.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	srv := g.server
	cancel := g.cancel
	g.server = nil
	g.cancel = nil
	g.mu.Unlock()

	if srv == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	err := srv.Shutdown(ctx)

	g.mu.Lock()
	g.status.Running = false
	g.status.LastStopAt = time.Now().UTC()
	if err != nil {
		g.status.LastError = err.Error()
	}
	g.mu.Unlock()

	slog.Info("gateway: stopped")
	return err
}

// Status returns the current snapshot.
func (g *Gateway) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Addr returns the bound listen address, empty when stopped.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status.Addr
}

// healthLoop pings the call server on a fixed interval. The result only
// feeds the status snapshot; the bridge itself keeps working (and failing
// per-request) regardless.
func (g *Gateway) healthLoop(ctx context.Context) {
	g.checkHealth(ctx)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.checkHealth(ctx)
		}
	}
}

func (g *Gateway) checkHealth(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	healthy := g.probe.Health(checkCtx)
	cancel()

	g.mu.Lock()
	wasHealthy := g.status.CallServerHealthy
	g.status.CallServerHealthy = healthy
	g.mu.Unlock()

	if healthy != wasHealthy {
		if healthy {
			slog.Info("gateway: call server healthy")
		} else {
			slog.Warn("gateway: call server unreachable")
		}
	}
}
