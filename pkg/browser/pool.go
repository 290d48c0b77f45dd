package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/gnana997/designflow/pkg/metrics"
)

// DefaultMaxContexts caps live contexts (leased + idle).
const DefaultMaxContexts = 5

// ErrPoolClosed is returned by Acquire after Shutdown until Init is called again.
var ErrPoolClosed = errors.New("browser pool is closed")

// State is the pool lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateLaunching
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLaunching:
		return "launching"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// PoolConfig controls Pool behavior.
type PoolConfig struct {
	// MaxContexts is the cap on live contexts. Zero means DefaultMaxContexts.
	MaxContexts int
}

// PoolStats is a snapshot of pool occupancy.
type PoolStats struct {
	State    string `json:"state"`
	Live     int    `json:"live"`
	Idle     int    `json:"idle"`
	Leased   int    `json:"leased"`
	Max      int    `json:"max"`
	Launches int    `json:"launches"`
}

// launchCall is one in-flight Launch shared by every concurrent Init.
type launchCall struct {
	done chan struct{}
	err  error
}

// generation holds the contexts of one launch. Shutdown retires it, and a
// later Init starts a fresh one, so stale leases can never leak into it.
type generation struct {
	sem    *semaphore.Weighted
	stop   context.Context
	cancel context.CancelFunc
	idle   []Context
	all    []Context
	leased int
}

// Pool leases isolated browser contexts with at most MaxContexts alive at once.
//
// Waiters queue on a FIFO weighted semaphore: each Release wakes exactly one.
type Pool struct {
	engine  Engine
	max     int
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	state    State
	launch   *launchCall
	gen      *generation
	launches int
}

// NewPool builds a pool in the uninitialized state. Nothing is launched yet.
func NewPool(engine Engine, cfg PoolConfig, logger *slog.Logger, m *metrics.Metrics) *Pool {
	if cfg.MaxContexts <= 0 {
		cfg.MaxContexts = DefaultMaxContexts
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pool{
		engine:  engine,
		max:     cfg.MaxContexts,
		logger:  logger.With("component", "browser_pool"),
		metrics: m,
	}
}

// Init launches the engine. It is idempotent: a ready pool returns at once and
// concurrent callers share the in-flight launch. A failed launch leaves the pool
// uninitialized so a later call can retry. Init on a closed pool relaunches.
func (p *Pool) Init(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case StateReady:
		p.mu.Unlock()
		return nil
	case StateLaunching:
		call := p.launch
		p.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	call := &launchCall{done: make(chan struct{})}
	p.launch = call
	p.state = StateLaunching
	p.launches++
	p.mu.Unlock()

	p.logger.Info("launching browser")
	err := p.engine.Launch(ctx)

	p.mu.Lock()
	if err != nil {
		p.state = StateUninitialized
		call.err = fmt.Errorf("launch browser: %w", err)
		p.logger.Error("browser launch failed", "error", err)
	} else {
		stop, cancel := context.WithCancel(context.Background())
		p.gen = &generation{
			sem:    semaphore.NewWeighted(int64(p.max)),
			stop:   stop,
			cancel: cancel,
		}
		p.state = StateReady
		p.logger.Info("browser ready", "max_contexts", p.max)
	}
	p.launch = nil
	p.mu.Unlock()
	close(call.done)

	return call.err
}

// Acquire leases a context, reusing an idle one when possible. It blocks while
// the cap is reached. An uninitialized pool is launched on demand; a closed pool
// fails fast with ErrPoolClosed.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()

	switch state {
	case StateClosed:
		return nil, ErrPoolClosed
	case StateUninitialized, StateLaunching:
		if err := p.Init(ctx); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	if p.state != StateReady {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	gen := p.gen
	p.mu.Unlock()

	waited := false
	if !gen.sem.TryAcquire(1) {
		waited = true
		waitCtx, cancel := context.WithCancel(ctx)
		stop := context.AfterFunc(gen.stop, cancel)
		err := gen.sem.Acquire(waitCtx, 1)
		stop()
		cancel()
		if err != nil {
			if gen.stop.Err() != nil {
				return nil, ErrPoolClosed
			}
			return nil, fmt.Errorf("acquire browser context: %w", ctx.Err())
		}
	}

	p.mu.Lock()
	if p.gen != gen || p.state != StateReady {
		p.mu.Unlock()
		gen.sem.Release(1)
		return nil, ErrPoolClosed
	}

	var bc Context
	if n := len(gen.idle); n > 0 {
		bc = gen.idle[n-1]
		gen.idle = gen.idle[:n-1]
		gen.leased++
		p.mu.Unlock()
	} else {
		p.mu.Unlock()

		// Holding a semaphore unit with no idle context means live < max.
		created, err := p.engine.NewContext(ctx)
		if err != nil {
			gen.sem.Release(1)
			return nil, fmt.Errorf("create browser context: %w", err)
		}

		p.mu.Lock()
		if p.gen != gen || p.state != StateReady {
			p.mu.Unlock()
			_ = created.Close()
			gen.sem.Release(1)
			return nil, ErrPoolClosed
		}
		gen.all = append(gen.all, created)
		gen.leased++
		bc = created
		p.mu.Unlock()
		p.logger.Debug("browser context created", "live", len(gen.all))
	}

	p.metrics.LeaseAcquired(waited)
	return &Lease{ID: uuid.NewString(), ctx: bc, pool: p, gen: gen}, nil
}

// release returns a lease's context to its generation and wakes one waiter.
func (p *Pool) release(l *Lease) {
	p.mu.Lock()
	if l.released {
		p.mu.Unlock()
		return
	}
	l.released = true
	l.gen.leased--
	if p.gen == l.gen && p.state == StateReady {
		l.gen.idle = append(l.gen.idle, l.ctx)
	}
	p.mu.Unlock()

	l.gen.sem.Release(1)
	p.metrics.LeaseReleased()
}

// Shutdown closes every known context, then the engine. Acquire fails with
// ErrPoolClosed afterwards until Init is called again.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateLaunching {
		call := p.launch
		p.mu.Unlock()
		select {
		case <-call.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		p.mu.Lock()
	}

	wasReady := p.state == StateReady
	gen := p.gen
	p.state = StateClosed
	p.gen = nil
	var contexts []Context
	if gen != nil {
		gen.cancel()
		contexts = gen.all
		gen.all = nil
		gen.idle = nil
	}
	p.mu.Unlock()

	var errs []error
	for _, bc := range contexts {
		if err := bc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close context: %w", err))
		}
	}
	if wasReady {
		if err := p.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close engine: %w", err))
		}
	}

	p.logger.Info("browser pool shut down", "contexts_closed", len(contexts))
	return errors.Join(errs...)
}

// State returns the current lifecycle state.
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := PoolStats{State: p.state.String(), Max: p.max, Launches: p.launches}
	if p.gen != nil {
		s.Live = len(p.gen.all)
		s.Idle = len(p.gen.idle)
		s.Leased = p.gen.leased
	}
	return s
}

// WithPage leases a context, opens a fresh page in it, runs fn, then closes the
// page and releases the lease.
func (p *Pool) WithPage(ctx context.Context, fn func(Page) error) error {
	lease, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	page, err := lease.NewPage(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			p.logger.Debug("page close failed", "lease", lease.ID, "error", cerr)
		}
	}()
	return fn(page)
}

// Lease is exclusive use of one browser context until Release.
type Lease struct {
	ID string

	ctx      Context
	pool     *Pool
	gen      *generation
	released bool
}

// NewPage opens a fresh tab inside the leased context.
func (l *Lease) NewPage(ctx context.Context) (Page, error) {
	page, err := l.ctx.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	return page, nil
}

// Release returns the context to the pool. Releasing twice is a no-op.
func (l *Lease) Release() {
	l.pool.release(l)
}
