package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrLoopStopped is returned when submitting to a loop that has exited.
var ErrLoopStopped = errors.New("engine: loop stopped")

// Task is one unit of work run to completion on the loop.
type Task func(e *Engine)

// LoopConfig sets the loop's queue depth and its periodic timers.
type LoopConfig struct {
	QueueSize     int
	SweepInterval time.Duration
	StatsInterval time.Duration
}

// Loop is the single timeline: one goroutine drains a FIFO of tasks and
// fires the sweep and stats timers between them. Nothing else touches the
// Engine.
type Loop struct {
	engine *Engine
	cfg    LoopConfig
	tasks  chan Task
	done   chan struct{}
	logger zerolog.Logger
}

func NewLoop(e *Engine, cfg LoopConfig) *Loop {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	return &Loop{
		engine: e,
		cfg:    cfg,
		tasks:  make(chan Task, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: log.With().Str("component", "loop").Logger(),
	}
}

// Run processes tasks until ctx is cancelled. Tasks still queued at that
// point are dropped.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)

	sweep := newTicker(l.cfg.SweepInterval)
	defer sweep.stop()
	stats := newTicker(l.cfg.StatsInterval)
	defer stats.stop()

	l.logger.Info().Dur("sweep_interval", l.cfg.SweepInterval).
		Dur("stats_interval", l.cfg.StatsInterval).Msg("engine loop started")

	for {
		select {
		case <-ctx.Done():
			l.logger.Info().Msg("engine loop stopped")
			return
		case t := <-l.tasks:
			l.exec(t)
		case <-sweep.c:
			l.exec(func(e *Engine) { e.Sweep() })
		case <-stats.c:
			l.exec(func(e *Engine) { e.BroadcastStats() })
		}
	}
}

func (l *Loop) exec(t Task) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("task panicked")
		}
	}()
	t(l.engine)
}

// Submit enqueues t. It blocks while the queue is full and fails once the
// loop has stopped.
func (l *Loop) Submit(t Task) error {
	select {
	case <-l.done:
		return ErrLoopStopped
	default:
	}
	select {
	case l.tasks <- t:
		return nil
	case <-l.done:
		return ErrLoopStopped
	}
}

// Do runs t on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, t Task) error {
	finished := make(chan struct{})
	err := l.Submit(func(e *Engine) {
		defer close(finished)
		t(e)
	})
	if err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine: waiting for task: %w", ctx.Err())
	case <-l.done:
		return ErrLoopStopped
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// ticker is a time.Ticker that never fires when the interval is zero.
type ticker struct {
	t *time.Ticker
	c <-chan time.Time
}

func newTicker(d time.Duration) ticker {
	if d <= 0 {
		return ticker{}
	}
	t := time.NewTicker(d)
	return ticker{t: t, c: t.C}
}

func (t ticker) stop() {
	if t.t != nil {
		t.t.Stop()
	}
}
