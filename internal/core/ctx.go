// Package core implements the process-wide context, the user-facing socket
// base, and the messaging patterns layered on it.
package core

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/Courier/internal/command"
	"github.com/GriffinCanCode/Courier/internal/config"
	"github.com/GriffinCanCode/Courier/internal/errs"
	"github.com/GriffinCanCode/Courier/internal/logging"
	"github.com/GriffinCanCode/Courier/internal/reactor"
)

// Context is the root object: it owns the I/O reactor pool, the reaper, and
// the inproc endpoint registry. Sockets are created from a context and must
// all be closed before Term returns.
type Context struct {
	cfg *config.Config
	log *logging.Logger

	reactors []*reactor.Reactor
	reaper   *reactor.Reaper

	mu          sync.Mutex
	sockets     map[*Base]struct{}
	terminating bool

	// inproc endpoint registry.
	inprocMu sync.Mutex
	inproc   map[string]*Base
	pending  map[string][]*pendingInproc

	closed sync.WaitGroup
}

type pendingInproc struct {
	sock *Base
}

// NewContext builds a context with cfg (nil loads environment defaults).
func NewContext(cfg *config.Config) (*Context, error) {
	if cfg == nil {
		cfg = config.LoadOrDefault()
	}
	if cfg.IOThreads < 1 {
		return nil, fmt.Errorf("io threads %d: %w", cfg.IOThreads, errs.ErrInval)
	}
	log, err := logging.New(logging.Config{
		Level:       cfg.LogLevel,
		Development: cfg.LogDev,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		log = logging.NewDefault()
	}

	ctx := &Context{
		cfg:     cfg,
		log:     log,
		sockets: make(map[*Base]struct{}),
		inproc:  make(map[string]*Base),
		pending: make(map[string][]*pendingInproc),
	}

	for i := 0; i < cfg.IOThreads; i++ {
		r, err := reactor.New(log.Named(fmt.Sprintf("io-%d", i)))
		if err != nil {
			ctx.shutdownReactors()
			return nil, fmt.Errorf("start io thread: %w", err)
		}
		ctx.reactors = append(ctx.reactors, r)
		go r.Run()
	}

	rp, err := reactor.NewReaper(log.Named("reaper"))
	if err != nil {
		ctx.shutdownReactors()
		return nil, fmt.Errorf("start reaper: %w", err)
	}
	ctx.reaper = rp
	go rp.Run()

	return ctx, nil
}

func (c *Context) shutdownReactors() {
	for _, r := range c.reactors {
		r.Stop()
		r.Join()
	}
}

// Logger returns the context logger.
func (c *Context) Logger() *zap.Logger { return c.log.Logger }

// Config returns the context defaults.
func (c *Context) Config() *config.Config { return c.cfg }

// chooseReactor picks the least loaded I/O thread.
func (c *Context) chooseReactor() *reactor.Reactor {
	best := c.reactors[0]
	for _, r := range c.reactors[1:] {
		if r.Load() < best.Load() {
			best = r
		}
	}
	return best
}

func (c *Context) registerSocket(b *Base) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminating {
		return errs.ErrTerm
	}
	c.sockets[b] = struct{}{}
	c.closed.Add(1)
	return nil
}

// socketClosed is called by the reaper path once a socket finished its
// termination protocol.
func (c *Context) socketClosed(b *Base) {
	c.mu.Lock()
	delete(c.sockets, b)
	c.mu.Unlock()
	c.closed.Done()
}

// Terminating reports whether Term has begun.
func (c *Context) Terminating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminating
}

// Term shuts the context down: it waits for every socket to finish its
// termination protocol, then stops the I/O threads and the reaper.
func (c *Context) Term() error {
	c.mu.Lock()
	if c.terminating {
		c.mu.Unlock()
		return errs.ErrTerm
	}
	c.terminating = true
	open := make([]*Base, 0, len(c.sockets))
	for s := range c.sockets {
		open = append(open, s)
	}
	c.mu.Unlock()

	// Interrupt blocking sends/receives; the owners still must Close.
	for _, s := range open {
		s.interrupt()
	}

	c.closed.Wait()

	command.Post(command.Command{Dest: c.reaper, Type: command.Done})
	c.reaper.Join()
	c.shutdownReactors()
	_ = c.log.Sync()
	return nil
}

// --- inproc registry ---

func (c *Context) bindInproc(name string, b *Base) error {
	c.inprocMu.Lock()
	if _, taken := c.inproc[name]; taken {
		c.inprocMu.Unlock()
		return errs.ErrAddrInUse
	}
	c.inproc[name] = b
	waiting := c.pending[name]
	delete(c.pending, name)
	c.inprocMu.Unlock()

	// Complete connects that raced ahead of the bind.
	for _, p := range waiting {
		connectInprocPipes(p.sock, b)
		command.Post(command.Command{Dest: p.sock, Type: command.InprocConnected})
	}
	return nil
}

func (c *Context) unbindInproc(name string, b *Base) {
	c.inprocMu.Lock()
	if c.inproc[name] == b {
		delete(c.inproc, name)
	}
	c.inprocMu.Unlock()
}

// connectInproc links sock to the endpoint, deferring until a binder shows
// up when necessary.
func (c *Context) connectInproc(name string, sock *Base) {
	c.inprocMu.Lock()
	binder, ok := c.inproc[name]
	if !ok {
		c.pending[name] = append(c.pending[name], &pendingInproc{sock: sock})
		c.inprocMu.Unlock()
		return
	}
	c.inprocMu.Unlock()
	connectInprocPipes(sock, binder)
}
