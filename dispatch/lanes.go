package dispatch

import (
	"context"
	"strings"
	"sync"

	"github.com/goliatone/go-prbridge/core"
	glog "github.com/goliatone/go-logger/glog"
)

// fanoutKey routes keyless work (branch notices) onto its own lane so it
// never interleaves with a pull request's ordered queue.
const fanoutKey = "\x00fanout"

type laneTask struct {
	ctx  context.Context
	task func(context.Context) error
}

type lane struct {
	tasks chan laneTask
}

// KeyedLanes is the per-key FIFO dispatcher. Submit blocks when a lane is at
// capacity instead of dropping: ordering and completeness beat latency here.
type KeyedLanes struct {
	logger   core.Logger
	executor *Executor
	depth    int
	quit     chan struct{}

	mu         sync.Mutex
	lanes      map[string]*lane
	closed     bool
	submitters sync.WaitGroup
	wg         sync.WaitGroup
}

type LanesOptions struct {
	Logger    core.Logger
	Executor  *Executor
	LaneDepth int
}

func NewKeyedLanes(opts LanesOptions) *KeyedLanes {
	logger := glog.Ensure(opts.Logger)
	executor := opts.Executor
	if executor == nil {
		executor = NewExecutor(logger)
	}
	depth := opts.LaneDepth
	if depth <= 0 {
		depth = 64
	}
	return &KeyedLanes{
		logger:   logger,
		executor: executor,
		depth:    depth,
		quit:     make(chan struct{}),
		lanes:    map[string]*lane{},
	}
}

// FromConfig builds lanes sized by the dispatch section of the service
// configuration.
func FromConfig(cfg core.DispatchConfig, logger core.Logger) *KeyedLanes {
	executor := NewExecutor(logger)
	if cfg.MaxAttempts > 0 {
		executor.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoff > 0 {
		executor.InitialBackoff = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		executor.MaxBackoff = cfg.MaxBackoff
	}
	return NewKeyedLanes(LanesOptions{
		Logger:    logger,
		Executor:  executor,
		LaneDepth: cfg.LaneDepth,
	})
}

func (d *KeyedLanes) Submit(ctx context.Context, key string, task func(context.Context) error) error {
	if d == nil {
		return core.ErrDispatcherClosed
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = fanoutKey
	}
	if task == nil {
		return nil
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return core.ErrDispatcherClosed
	}
	target, ok := d.lanes[key]
	if !ok {
		target = &lane{tasks: make(chan laneTask, d.depth)}
		d.lanes[key] = target
		d.wg.Add(1)
		go d.drain(key, target)
	}
	// Registered while the lock is held, so Shutdown cannot close the lane
	// channels before this send resolves.
	d.submitters.Add(1)
	d.mu.Unlock()
	defer d.submitters.Done()

	select {
	case target.tasks <- laneTask{ctx: context.WithoutCancel(ctx), task: task}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.quit:
		return core.ErrDispatcherClosed
	}
}

func (d *KeyedLanes) Fanout(ctx context.Context, task func(context.Context) error) error {
	return d.Submit(ctx, fanoutKey, task)
}

// Shutdown stops accepting work and drains every lane. Queued tasks still
// run, submitters blocked on a full lane are released with
// ErrDispatcherClosed, and the context bounds how long the drain may take.
func (d *KeyedLanes) Shutdown(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.quit)
	d.mu.Unlock()

	// Pending submitters either finish their send or take the quit signal;
	// only after they drain is it safe to close the channels they send on.
	d.submitters.Wait()
	d.mu.Lock()
	for _, l := range d.lanes {
		close(l.tasks)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *KeyedLanes) drain(key string, l *lane) {
	defer d.wg.Done()
	for item := range l.tasks {
		if err := d.executor.Run(item.ctx, key, item.task); err != nil {
			d.logger.Error("lane task dropped", "key", key, "error", err.Error())
		}
	}
}

var _ core.Dispatcher = (*KeyedLanes)(nil)
