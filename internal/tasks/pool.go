package tasks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"
)

// Task is one unit of asynchronous work.
type Task func(ctx context.Context) error

// Dispatcher runs tasks asynchronously, now or after a delay. Tasks with
// the same key run one after another in dispatch order. Go runs a task
// outside any key's order, for work that may wait a long time.
type Dispatcher interface {
	Dispatch(key, name string, task Task)
	DispatchAfter(delay time.Duration, key, name string, task Task)
	Go(name string, task Task)
}

type job struct {
	name string
	task Task
}

// Pool is an in-process Dispatcher. Each key is hashed onto one lane and
// every lane is served by a single goroutine.
type Pool struct {
	lanes  []chan job
	free   chan struct{} // slots for tasks started with Go
	logger *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	senders sync.WaitGroup // goroutines finishing sends onto full lanes

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool

	queued atomic.Int64 // dispatched and not yet finished
}

// NewPool creates a pool with the given number of lanes. Start must be
// called before tasks run.
func NewPool(lanes, buffer int, logger *zap.Logger) *Pool {
	if lanes <= 0 {
		lanes = 1
	}
	p := &Pool{
		lanes:  make([]chan job, lanes),
		free:   make(chan struct{}, lanes),
		logger: logger.Named("tasks"),
		timers: make(map[*time.Timer]struct{}),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	for i := range p.lanes {
		p.lanes[i] = make(chan job, buffer)
	}
	return p
}

// Start launches the lane workers. They stop when ctx is done or Close is called.
func (p *Pool) Start(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			p.cancel()
		case <-p.ctx.Done():
		}
	}()
	for i, lane := range p.lanes {
		p.wg.Add(1)
		go p.work(i, lane)
	}
	p.logger.Info("task pool started", zap.Int("lanes", len(p.lanes)))
}

func (p *Pool) work(id int, lane chan job) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			p.drop(lane)
			return
		case j := <-lane:
			p.run(id, j)
		}
	}
}

// drop discards the jobs left on lane after shutdown.
func (p *Pool) drop(lane chan job) {
	for {
		select {
		case j := <-lane:
			p.queued.Add(-1)
			p.logger.Debug("task dropped on shutdown", zap.String("task", j.name))
		default:
			return
		}
	}
}

func (p *Pool) run(lane int, j job) {
	start := time.Now()
	status := "ok"
	defer func() {
		p.queued.Add(-1)
		if r := recover(); r != nil {
			status = "panic"
			p.logger.Error("task panicked", zap.String("task", j.name), zap.Any("panic", r))
		}
		tasksTotal.WithLabelValues(j.name, status).Inc()
		taskDuration.WithLabelValues(j.name).Observe(time.Since(start).Seconds())
	}()

	if err := j.task(p.ctx); err != nil {
		status = "error"
		p.logger.Error("task failed",
			zap.String("task", j.name),
			zap.Int("lane", lane),
			zap.Error(err),
		)
	}
}

func (p *Pool) lane(key string) chan job {
	return p.lanes[murmur3.Sum32([]byte(key))%uint32(len(p.lanes))]
}

// Dispatch queues task on the lane of key.
func (p *Pool) Dispatch(key, name string, task Task) {
	j := job{name: name, task: task}
	lane := p.lane(key)

	p.mu.Lock()
	if p.closed || p.ctx.Err() != nil {
		p.mu.Unlock()
		p.logger.Warn("pool closed, dropping task", zap.String("task", name), zap.String("key", key))
		return
	}
	p.queued.Add(1)
	select {
	case lane <- j:
		p.mu.Unlock()
		return
	default:
	}
	p.senders.Add(1)
	p.mu.Unlock()

	// a full lane must not block a task that dispatches follow-ups
	// onto it, so the send is completed from a goroutine
	p.logger.Warn("task lane full", zap.String("task", name), zap.String("key", key))
	go func() {
		defer p.senders.Done()
		select {
		case lane <- j:
		case <-p.ctx.Done():
			p.queued.Add(-1)
		}
	}()
}

// Go runs task on its own goroutine so a slow task never holds up a lane.
// At most as many such tasks as there are lanes run at once; the rest wait
// for a slot.
func (p *Pool) Go(name string, task Task) {
	p.mu.Lock()
	if p.closed || p.ctx.Err() != nil {
		p.mu.Unlock()
		p.logger.Warn("pool closed, dropping task", zap.String("task", name))
		return
	}
	p.queued.Add(1)
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		select {
		case p.free <- struct{}{}:
		case <-p.ctx.Done():
			p.queued.Add(-1)
			return
		}
		defer func() { <-p.free }()
		p.run(-1, job{name: name, task: task})
	}()
}

// DispatchAfter queues task once delay has passed without holding a worker.
func (p *Pool) DispatchAfter(delay time.Duration, key, name string, task Task) {
	if delay <= 0 {
		p.Dispatch(key, name, task)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		p.Dispatch(key, name, task)
		p.mu.Lock()
		delete(p.timers, timer)
		p.mu.Unlock()
	})
	p.timers[timer] = struct{}{}
}

// Pending returns the number of delayed tasks not yet dispatched.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}

// Busy returns the number of tasks queued, running or delayed.
func (p *Pool) Busy() int {
	return int(p.queued.Load()) + p.Pending()
}

// Close stops the workers and drops delayed and still queued tasks.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for timer := range p.timers {
		timer.Stop()
	}
	p.timers = make(map[*time.Timer]struct{})
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.senders.Wait()
	for _, lane := range p.lanes {
		p.drop(lane)
	}
	p.logger.Info("task pool stopped")
	return nil
}

// Key helpers keep lane routing consistent across callers.
func WebhookKey(id int64) string  { return fmt.Sprintf("webhook:%d", id) }
func TrackerKey(id int64) string  { return fmt.Sprintf("tracker:%d", id) }
func KillmailKey(id int64) string { return fmt.Sprintf("killmail:%d", id) }
