// Package observability carries the debug/metrics sink contract the core
// reports into. The core never blocks on a sink; implementations must return
// promptly or buffer internally.
package observability

import (
	"time"

	"github.com/stormsync/stormsync/internal/core/ecs"
	"github.com/stormsync/stormsync/internal/core/observability/log"
)

// TickStats is the per-tick timing report published by the game loop.
type TickStats struct {
	Tick   uint64
	Delta  time.Duration
	Phases []ecs.PhaseTiming
	FPS    float64
}

// Sink receives collision pairs and per-tick timing counters.
type Sink interface {
	Collision(a, b ecs.EntityID)
	Tick(stats TickStats)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Collision(_, _ ecs.EntityID) {}
func (NopSink) Tick(TickStats)              {}

// LogSink reports collisions and tick stats at debug level.
type LogSink struct {
	logger log.Log
}

func NewLogSink(logger log.Log) *LogSink {
	return &LogSink{logger: logger.With(log.String("component", "sink"))}
}

func (s *LogSink) Collision(a, b ecs.EntityID) {
	s.logger.Debug("collision",
		log.Uint64("entity_a", uint64(a)),
		log.Uint64("entity_b", uint64(b)))
}

func (s *LogSink) Tick(stats TickStats) {
	s.logger.Debug("tick",
		log.Uint64("tick", stats.Tick),
		log.Duration("delta", stats.Delta),
		log.Float64("fps", stats.FPS))
}
