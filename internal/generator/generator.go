package generator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/rs/zerolog"

	"transformer-telemetry/internal/scheduler"
	"transformer-telemetry/internal/telemetry"
)

var (
	// ErrAlreadyStarted is returned when Start is called on a running generator.
	ErrAlreadyStarted = errors.New("generator: already started")
	// ErrNoEntities is returned when Start is called without entities.
	ErrNoEntities = errors.New("generator: no entities")
)

// Pusher accepts measurements without blocking.
type Pusher interface {
	Push(m telemetry.Measurement) bool
}

// Options configure a Generator.
type Options struct {
	Tick   time.Duration
	Params Params
	Clock  mclock.Clock
	// Origin anchors logical timestamps; zero means the wall clock at Start.
	Origin time.Time
}

// Task is the handle of one entity's generation loop.
type Task struct {
	entity   telemetry.Entity
	cancel   context.CancelFunc
	done     chan struct{}
	accepted atomic.Uint64
	rejected atomic.Uint64
}

// Entity returns the entity driven by the task.
func (t *Task) Entity() telemetry.Entity { return t.entity }

// Cancel requests the task to stop. It does not wait.
func (t *Task) Cancel() { t.cancel() }

// Done is closed once the task has exited.
func (t *Task) Done() <-chan struct{} { return t.done }

// Accepted counts measurements the router took.
func (t *Task) Accepted() uint64 { return t.accepted.Load() }

// Rejected counts measurements the router refused.
func (t *Task) Rejected() uint64 { return t.rejected.Load() }

// Generator runs one independent Process per entity.
type Generator struct {
	opts   Options
	push   Pusher
	logger zerolog.Logger

	mu    sync.Mutex
	tasks []*Task
}

// New constructs a generator that pushes into p.
func New(opts Options, p Pusher, logger zerolog.Logger) *Generator {
	if opts.Tick <= 0 {
		opts.Tick = defaultTickDelta
	}
	return &Generator{
		opts:   opts,
		push:   p,
		logger: logger.With().Str("component", "generator").Logger(),
	}
}

// Start launches one task per entity. Tasks stop when ctx is cancelled or
// Stop is called.
func (g *Generator) Start(ctx context.Context, entities []telemetry.Entity, seed int64) ([]*Task, error) {
	if len(entities) == 0 {
		return nil, ErrNoEntities
	}

	seen := make(map[telemetry.EntityID]struct{}, len(entities))
	for _, e := range entities {
		if e.ID == "" {
			return nil, fmt.Errorf("generator: empty entity id")
		}
		if _, dup := seen[e.ID]; dup {
			return nil, fmt.Errorf("generator: duplicate entity %q", e.ID)
		}
		seen[e.ID] = struct{}{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tasks != nil {
		return nil, ErrAlreadyStarted
	}

	origin := g.opts.Origin
	if origin.IsZero() {
		origin = time.Now().UTC()
	}

	tasks := make([]*Task, 0, len(entities))
	for _, e := range entities {
		taskCtx, cancel := context.WithCancel(ctx)
		task := &Task{entity: e, cancel: cancel, done: make(chan struct{})}
		proc := NewProcess(e, seed, g.opts.Params, origin, g.opts.Tick)
		go g.run(taskCtx, task, proc)
		tasks = append(tasks, task)
	}
	g.tasks = tasks

	g.logger.Info().Int("entities", len(entities)).Int64("seed", seed).Dur("tick", g.opts.Tick).Msg("generation started")
	return append([]*Task(nil), tasks...), nil
}

func (g *Generator) run(ctx context.Context, task *Task, proc *Process) {
	defer close(task.done)
	logger := g.logger.With().Str("entity", string(task.entity.ID)).Logger()

	sched := scheduler.New(scheduler.Options{Interval: g.opts.Tick, Clock: g.opts.Clock}, logger)
	_ = sched.Run(ctx, func(ctx context.Context, n uint64) error {
		if ctx.Err() != nil {
			return nil
		}
		m := proc.Next()
		if ctx.Err() != nil {
			return nil
		}
		if g.push.Push(m) {
			task.accepted.Add(1)
		} else {
			task.rejected.Add(1)
		}
		return nil
	})

	logger.Debug().Uint64("accepted", task.Accepted()).Uint64("rejected", task.Rejected()).Msg("generation stopped")
}

// Stop cancels every task and waits for them to exit.
func (g *Generator) Stop() {
	g.mu.Lock()
	tasks := g.tasks
	g.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
	for _, t := range tasks {
		<-t.Done()
	}
}

// Tasks returns the current task handles.
func (g *Generator) Tasks() []*Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Task(nil), g.tasks...)
}
