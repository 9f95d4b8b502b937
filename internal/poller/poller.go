// Package poller repeatedly fetches the status of a long-running remote job
// until it reaches a terminal status or the caller cancels.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quillforge/quill/internal/errors"
	"github.com/quillforge/quill/internal/logging"
)

// Defaults applied by Start when the corresponding option is zero.
const (
	DefaultInterval       = 2 * time.Second
	DefaultErrorThreshold = 5
)

// Clock is the time source the poller schedules ticks on.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// Recorder receives poll measurements. *metrics.Metrics implements it.
type Recorder interface {
	PollStarted()
	PollFetched(err error)
	PollFinished(outcome string)
}

// FetchFunc fetches the current status of jobID. It must return promptly
// and must not retry internally.
type FetchFunc[S any] func(ctx context.Context, jobID string) (S, error)

// Options configures a poll loop. IsTerminal is required.
type Options[S any] struct {
	// Interval is the delay between the end of one fetch and the start of the next.
	Interval time.Duration
	// IsTerminal reports whether status ends polling.
	IsTerminal func(S) bool
	// ErrorThreshold is the number of consecutive fetch errors that ends polling with a failure.
	ErrorThreshold int
	Clock          Clock
	Logger         *logging.Logger
	Recorder       Recorder
	// OnStatus is called with every status that is not discarded, including the terminal one.
	OnStatus func(S)
	// OnDone is called once when polling ends on its own. It is not called after Cancel.
	OnDone func(Outcome[S])
}

// Outcome is how a poll loop ended on its own.
type Outcome[S any] struct {
	// Status is the terminal status. It is the zero value when Err is set.
	Status S
	// Err is set when the error threshold tripped, in which case it wraps
	// errors.ErrPollErrorThreshold and the last fetch error, or when Start was
	// given invalid options, in which case it is a validation error.
	Err error
	// Fetches is the total number of fetches issued.
	Fetches int
}

// Handle controls one running poll loop.
type Handle[S any] struct {
	jobID  string
	fetch  FetchFunc[S]
	opts   Options[S]
	logger *logging.Logger

	fetchCtx context.Context // not canceled by Cancel; in-flight fetches finish
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu      sync.Mutex
	fetches int
	outcome *Outcome[S]
}

// Start performs the first fetch immediately on a new goroutine and keeps
// polling every Interval until IsTerminal returns true, the error
// threshold trips, ctx is done, or Cancel is called. Fetches never overlap.
//
// A nil IsTerminal or fetch issues no fetches: the returned handle ends at
// once with an outcome whose Err is a validation error.
func Start[S any](ctx context.Context, jobID string, fetch FetchFunc[S], opts Options[S]) *Handle[S] {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ErrorThreshold <= 0 {
		opts.ErrorThreshold = DefaultErrorThreshold
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}

	h := &Handle[S]{
		jobID:    jobID,
		fetch:    fetch,
		opts:     opts,
		logger:   opts.Logger.WithPhase("poller").WithJob(jobID),
		fetchCtx: context.WithoutCancel(ctx),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if opts.Recorder != nil {
		opts.Recorder.PollStarted()
	}

	if err := validate(fetch, opts); err != nil {
		go func() {
			defer close(h.done)
			h.finish(Outcome[S]{Err: err}, "invalid")
		}()
		return h
	}

	go func() {
		select {
		case <-ctx.Done():
			h.Cancel()
		case <-h.done:
		}
	}()
	go h.run()

	return h
}

func validate[S any](fetch FetchFunc[S], opts Options[S]) error {
	if fetch == nil {
		return errors.NewValidationError("poller requires a fetch function").WithField("fetch")
	}
	if opts.IsTerminal == nil {
		return errors.NewValidationError("poller requires a terminal-status predicate").WithField("is_terminal")
	}
	return nil
}

// JobID returns the polled job.
func (h *Handle[S]) JobID() string {
	return h.jobID
}

// Cancel stops polling. It is idempotent and safe to call after the loop
// has ended. A fetch already in flight is allowed to finish but its
// result is discarded.
func (h *Handle[S]) Cancel() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

// Done is closed when the loop has exited, whether by outcome or cancel.
func (h *Handle[S]) Done() <-chan struct{} {
	return h.done
}

// Outcome returns how the loop ended on its own. ok is false while polling
// and when the loop was canceled before reaching an outcome.
func (h *Handle[S]) Outcome() (Outcome[S], bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.outcome == nil {
		return Outcome[S]{}, false
	}
	return *h.outcome, true
}

// Fetches returns the number of fetches issued so far.
func (h *Handle[S]) Fetches() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fetches
}

func (h *Handle[S]) stopped() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}

func (h *Handle[S]) run() {
	defer close(h.done)

	consecutive := 0
	var last time.Time

	for {
		if h.stopped() {
			h.finishCanceled()
			return
		}

		h.mu.Lock()
		h.fetches++
		n := h.fetches
		h.mu.Unlock()

		now := h.opts.Clock.Now()
		if !last.IsZero() {
			h.logger.Debug("fetching status", "fetch", n, "since_last_ms", now.Sub(last).Milliseconds())
		}
		last = now

		status, err := h.fetch(h.fetchCtx, h.jobID)
		if h.opts.Recorder != nil {
			h.opts.Recorder.PollFetched(err)
		}

		if h.stopped() {
			h.logger.Debug("discarding result fetched after cancel", "fetch", n)
			h.finishCanceled()
			return
		}

		if err != nil {
			consecutive++
			h.logger.Warn("status fetch failed",
				"fetch", n, "consecutive_errors", consecutive,
				"threshold", h.opts.ErrorThreshold, "error", err)
			if consecutive >= h.opts.ErrorThreshold {
				var zero S
				h.finish(Outcome[S]{
					Status: zero,
					Err: fmt.Errorf("%w: %d consecutive fetch errors, last: %w",
						errors.ErrPollErrorThreshold, consecutive, err),
					Fetches: n,
				}, "error_threshold")
				return
			}
		} else {
			consecutive = 0
			if h.opts.OnStatus != nil {
				h.opts.OnStatus(status)
			}
			if h.opts.IsTerminal(status) {
				h.finish(Outcome[S]{Status: status, Fetches: n}, "terminal")
				return
			}
		}

		select {
		case <-h.opts.Clock.After(h.opts.Interval):
		case <-h.stop:
			h.finishCanceled()
			return
		}
	}
}

func (h *Handle[S]) finish(out Outcome[S], label string) {
	h.mu.Lock()
	h.outcome = &out
	h.mu.Unlock()

	if h.opts.Recorder != nil {
		h.opts.Recorder.PollFinished(label)
	}
	if out.Err != nil {
		h.logger.Error("polling gave up", "fetches", out.Fetches, "error", out.Err)
	} else {
		h.logger.Info("job reached terminal status", "fetches", out.Fetches)
	}
	if h.opts.OnDone != nil {
		h.opts.OnDone(out)
	}
}

func (h *Handle[S]) finishCanceled() {
	if h.opts.Recorder != nil {
		h.opts.Recorder.PollFinished("canceled")
	}
	h.logger.Debug("polling canceled", "fetches", h.Fetches())
}
