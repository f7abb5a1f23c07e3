// Package loop drives the simulation: a fixed-tick scheduler that measures
// wall-clock deltas, clamps overruns and runs the world's systems in their
// registered phase order once per tick.
package loop

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stormsync/stormsync/internal/core/ecs"
	"github.com/stormsync/stormsync/internal/core/observability"
	"github.com/stormsync/stormsync/internal/core/observability/log"
)

// Config tunes the loop.
type Config struct {
	// TickInterval is the target time between ticks.
	TickInterval time.Duration

	// MaxFrameTime caps the delta handed to systems after a stall, so one
	// slow frame never triggers runaway catch-up.
	MaxFrameTime time.Duration

	Clock Clock
}

func DefaultConfig() Config {
	return Config{
		TickInterval: time.Second / 60,
		MaxFrameTime: 250 * time.Millisecond,
		Clock:        WallClock{},
	}
}

// Loop is the sole driver of a simulation instance: no two systems run
// concurrently and no tick overlaps the next.
type Loop struct {
	cfg    Config
	world  *ecs.World
	sink   observability.Sink
	logger log.Log

	running  atomic.Bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex // guards stopChan swap across Start/Stop cycles

	lastTick time.Time
	tick     atomic.Uint64

	// rolling FPS window
	frames     int
	windowFrom time.Time
	fps        atomic.Uint64 // float64 bits
}

func New(world *ecs.World, cfg Config, sink observability.Sink, logger log.Log) *Loop {
	if cfg.Clock == nil {
		cfg.Clock = WallClock{}
	}
	if sink == nil {
		sink = observability.NopSink{}
	}
	return &Loop{
		cfg:    cfg,
		world:  world,
		sink:   sink,
		logger: logger.With(log.String("component", "loop")),
	}
}

// Start launches the scheduler goroutine. Idempotent.
func (l *Loop) Start() {
	if !l.running.CompareAndSwap(false, true) {
		return
	}
	l.mu.Lock()
	l.stopChan = make(chan struct{})
	stop := l.stopChan
	l.mu.Unlock()

	l.lastTick = l.cfg.Clock.Now()
	l.windowFrom = l.lastTick
	l.frames = 0

	l.wg.Add(1)
	go l.run(stop)
	l.logger.Info("loop started", log.Duration("tick_interval", l.cfg.TickInterval))
}

// Stop halts scheduling without destroying entities. Idempotent; safe to
// call between ticks at any time.
func (l *Loop) Stop() {
	if !l.running.CompareAndSwap(true, false) {
		return
	}
	l.mu.Lock()
	close(l.stopChan)
	l.mu.Unlock()
	l.wg.Wait()
	l.logger.Info("loop stopped", log.Uint64("ticks", l.tick.Load()))
}

// Cleanup stops the loop and releases the world.
func (l *Loop) Cleanup() {
	l.Stop()
	l.world.Cleanup()
}

// Step advances exactly one tick synchronously using the injected clock.
// Intended for tests and offline simulation; must not race a started loop.
func (l *Loop) Step() {
	now := l.cfg.Clock.Now()
	if l.lastTick.IsZero() {
		l.lastTick = now.Add(-l.cfg.TickInterval)
		l.windowFrom = l.lastTick
	}
	l.tickOnce(now)
}

// TickCount returns the number of completed ticks.
func (l *Loop) TickCount() uint64 { return l.tick.Load() }

// FPS returns the rolling frames-per-second estimate.
func (l *Loop) FPS() float64 {
	return math.Float64frombits(l.fps.Load())
}

func (l *Loop) run(stop <-chan struct{}) {
	defer l.wg.Done()

	timer := time.NewTimer(l.cfg.TickInterval)
	defer timer.Stop()
	deadline := l.cfg.Clock.Now().Add(l.cfg.TickInterval)

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}

		now := l.cfg.Clock.Now()
		l.tickOnce(now)

		deadline = deadline.Add(l.cfg.TickInterval)
		// Resync rather than fire a burst of catch-up ticks when far behind.
		if now.Sub(deadline) > 2*l.cfg.TickInterval {
			deadline = now.Add(l.cfg.TickInterval)
		}
		sleep := deadline.Sub(l.cfg.Clock.Now())
		if sleep < 0 {
			sleep = 0
		}
		timer.Reset(sleep)
	}
}

func (l *Loop) tickOnce(now time.Time) {
	delta := now.Sub(l.lastTick)
	l.lastTick = now
	if delta > l.cfg.MaxFrameTime {
		delta = l.cfg.MaxFrameTime
	}
	if delta < 0 {
		delta = 0
	}

	phases := l.world.Update(delta.Seconds())
	tick := l.tick.Add(1)

	l.frames++
	window := now.Sub(l.windowFrom)
	if window >= time.Second {
		l.fps.Store(math.Float64bits(float64(l.frames) / window.Seconds()))
		l.frames = 0
		l.windowFrom = now
	}

	l.sink.Tick(observability.TickStats{
		Tick:   tick,
		Delta:  delta,
		Phases: phases,
		FPS:    l.FPS(),
	})
}
