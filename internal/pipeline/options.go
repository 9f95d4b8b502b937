package pipeline

import (
	"time"

	"github.com/quillforge/quill/internal/event"
	"github.com/quillforge/quill/internal/logging"
	"github.com/quillforge/quill/internal/scoring"
)

// Recorder receives pipeline measurements. *metrics.Metrics implements it.
type Recorder interface {
	PassObserved(pass string, err error, d time.Duration)
	PipelineFinished(outcome string)
}

// Option configures an Executor.
type Option func(*executorConfig)

type executorConfig struct {
	logger   *logging.Logger
	bus      *event.Bus
	scorer   scoring.Scorer
	rescore  bool
	recorder Recorder
	now      func() time.Time
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *executorConfig) {
		c.logger = l
	}
}

// WithBus publishes pass and run events on bus.
func WithBus(bus *event.Bus) Option {
	return func(c *executorConfig) {
		c.bus = bus
	}
}

// WithScorer enables re-scoring after the final pass.
func WithScorer(s scoring.Scorer) Option {
	return func(c *executorConfig) {
		c.scorer = s
		c.rescore = s != nil
	}
}

// WithRescore toggles the final re-score without removing the scorer.
func WithRescore(enabled bool) Option {
	return func(c *executorConfig) {
		c.rescore = enabled
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *executorConfig) {
		c.recorder = r
	}
}

// WithNow overrides the time source used for run timestamps and pass durations.
func WithNow(now func() time.Time) Option {
	return func(c *executorConfig) {
		c.now = now
	}
}
