// Package lifecycle owns startup ordering, a ping-driven readiness
// monitor, and two-phase graceful shutdown.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oriys/infer/internal/logging"
	"github.com/oriys/infer/internal/metastore"
)

// Server is anything the controller can bring down with a grace period.
type Server interface {
	Shutdown(ctx context.Context) error
}

// ReadinessSink receives health transitions driven by the readiness
// monitor; the adapter returned by rpcapi.NewReadinessAdapter satisfies
// it.
type ReadinessSink interface {
	SetServing(serving bool)
}

// Options configures the controller; zero values fall back to the
// defaults noted per field.
type Options struct {
	PingInterval time.Duration // default 5s
	GraceSeconds int           // default 5
}

// Controller owns the readiness monitor goroutine and the shutdown
// sequence for every registered transport.
type Controller struct {
	resolver metastore.Resolver
	sinks    []ReadinessSink
	servers  []Server
	closers  []func() error

	opts Options

	wasServing  atomic.Bool
	stopMonitor chan struct{}
	monitorDone chan struct{}
}

// New constructs a Controller. Call Run to start the acceptor lifecycle
// once every transport has been registered.
func New(resolver metastore.Resolver, opts Options) *Controller {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 5 * time.Second
	}
	if opts.GraceSeconds <= 0 {
		opts.GraceSeconds = 5
	}
	return &Controller{
		resolver:    resolver,
		opts:        opts,
		stopMonitor: make(chan struct{}),
		monitorDone: make(chan struct{}),
	}
}

// RegisterReadinessSink adds a health surface the readiness monitor
// drives; call before Run. The sink is pushed the current state
// immediately, so a freshly registered health server reports
// NOT_SERVING rather than unknown until the first ping lands.
// setServing only notifies on transitions, so the initial state has to
// be seeded here.
func (c *Controller) RegisterReadinessSink(sink ReadinessSink) {
	c.sinks = append(c.sinks, sink)
	sink.SetServing(c.wasServing.Load())
}

// RegisterServer adds a transport to stop during shutdown; call before Run.
func (c *Controller) RegisterServer(srv Server) {
	c.servers = append(c.servers, srv)
}

// RegisterCloser adds a resource (metastore, blobstore) to close after
// every transport has stopped; call before Run.
func (c *Controller) RegisterCloser(closeFn func() error) {
	c.closers = append(c.closers, closeFn)
}

// Run starts the readiness monitor and blocks until a termination signal
// arrives, then drives the shutdown sequence. It returns once shutdown
// has completed (or been forced by a second signal).
func (c *Controller) Run(ctx context.Context) {
	go c.monitorLoop(ctx)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	<-sigCh
	logging.Op().Info("shutdown signal received, draining")
	c.setServing(false)
	close(c.stopMonitor)

	done := make(chan struct{})
	go func() {
		c.shutdown()
		close(done)
	}()

	select {
	case <-done:
		logging.Op().Info("shutdown complete")
	case <-sigCh:
		logging.Op().Warn("second signal received, exiting immediately")
		os.Exit(1)
	}
}

func (c *Controller) shutdown() {
	grace := time.Duration(c.opts.GraceSeconds) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	for _, srv := range c.servers {
		if err := srv.Shutdown(ctx); err != nil {
			logging.Op().Error("transport shutdown error", "error", err)
		}
	}

	<-c.monitorDone

	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			logging.Op().Error("resource close error", "error", err)
		}
	}
}

// monitorLoop pings the metastore every PingInterval and flips readiness
// accordingly, logging only on transitions.
func (c *Controller) monitorLoop(ctx context.Context) {
	defer close(c.monitorDone)

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopMonitor:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.opts.PingInterval)
			err := c.resolver.Ping(pingCtx)
			cancel()
			c.setServing(err == nil)
		}
	}
}

func (c *Controller) setServing(serving bool) {
	if c.wasServing.Swap(serving) == serving {
		return
	}
	if serving {
		logging.Op().Info("health transition: SERVING")
	} else {
		logging.Op().Info("health transition: NOT_SERVING")
	}
	for _, sink := range c.sinks {
		sink.SetServing(serving)
	}
}
