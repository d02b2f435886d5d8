package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/nyash/nyashd/internal/ledger"
	"github.com/nyash/nyashd/internal/logger"
)

// Searcher runs the search over one lease. Returning an error stops the
// runner without committing; the lease is reclaimed by another worker once
// it goes stale.
type Searcher interface {
	Search(ctx context.Context, lease ledger.Job) error
}

// SearchFunc adapts a function to [Searcher].
type SearchFunc func(ctx context.Context, lease ledger.Job) error

func (f SearchFunc) Search(ctx context.Context, lease ledger.Job) error {
	return f(ctx, lease)
}

// API is the server surface the runner needs. [*Client] implements it.
type API interface {
	Acquire(ctx context.Context, preferredLen uint64) (ledger.Job, ledger.Outcome, error)
	Commit(ctx context.Context, lease ledger.Job) (bool, error)
}

// RunnerConfig configures a [Runner].
type RunnerConfig struct {
	// PreferredLen is requested per lease; zero uses the server default.
	PreferredLen uint64

	// PollInterval is the wait after a pending outcome. Defaults to 5s.
	PollInterval time.Duration

	// MaxJobs stops the runner after this many leases; zero means no limit.
	MaxJobs int

	// NewBackoff builds the retry policy for one request. Defaults to an
	// exponential backoff capped at one minute between attempts.
	NewBackoff func() backoff.BackOff

	Clock  clockwork.Clock
	Logger logger.Logger
}

// Summary describes a finished run.
type Summary struct {
	Jobs      int
	Keys      uint64
	Reclaimed int
	// Lost counts leases whose commit the server rejected because the
	// lease had been reissued.
	Lost      int
	Exhausted bool
}

// Runner loops acquire, search, commit until the space is exhausted.
type Runner struct {
	api      API
	searcher Searcher
	cfg      RunnerConfig
}

const defaultPollInterval = 5 * time.Second

// NewRunner returns a runner. Zero config fields get defaults.
func NewRunner(api API, searcher Searcher, cfg RunnerConfig) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	if cfg.NewBackoff == nil {
		cfg.NewBackoff = defaultBackoff
	}

	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.Noop{}
	}

	return &Runner{api: api, searcher: searcher, cfg: cfg}
}

func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	b.Reset()

	return b
}

// Run works until the server reports exhaustion, MaxJobs is reached, ctx is
// done or a request fails permanently.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	for r.cfg.MaxJobs == 0 || sum.Jobs < r.cfg.MaxJobs {
		lease, outcome, err := r.acquire(ctx)
		if err != nil {
			return sum, err
		}

		switch outcome {
		case ledger.OutcomeExhausted:
			r.cfg.Logger.InfofCtx(ctx, "search space exhausted after %d jobs", sum.Jobs)

			sum.Exhausted = true

			return sum, nil
		case ledger.OutcomePending:
			r.cfg.Logger.DebugfCtx(ctx, "no work available, retrying in %s", r.cfg.PollInterval)

			select {
			case <-ctx.Done():
				return sum, ctx.Err()
			case <-r.cfg.Clock.After(r.cfg.PollInterval):
			}

			continue
		case ledger.OutcomeReclaimed:
			sum.Reclaimed++
		}

		err = r.searcher.Search(ctx, lease)
		if err != nil {
			return sum, fmt.Errorf("search job %d: %w", lease.ID, err)
		}

		committed, err := r.commit(ctx, lease)
		if err != nil {
			return sum, err
		}

		sum.Jobs++

		if !committed {
			sum.Lost++
			r.cfg.Logger.InfofCtx(ctx, "job %d was reissued before commit", lease.ID)

			continue
		}

		sum.Keys += lease.Len
	}

	return sum, nil
}

func (r *Runner) acquire(ctx context.Context) (ledger.Job, ledger.Outcome, error) {
	type result struct {
		job     ledger.Job
		outcome ledger.Outcome
	}

	res, err := retry(ctx, r, "acquire", func() (result, error) {
		job, outcome, err := r.api.Acquire(ctx, r.cfg.PreferredLen)

		return result{job, outcome}, err
	})
	if err != nil {
		return ledger.Job{}, 0, err
	}

	return res.job, res.outcome, nil
}

func (r *Runner) commit(ctx context.Context, lease ledger.Job) (bool, error) {
	return retry(ctx, r, "commit", func() (bool, error) {
		return r.api.Commit(ctx, lease)
	})
}

// retry runs op until it succeeds, fails permanently or ctx is done.
// Server rejections other than 5xx/429 are permanent.
func retry[T any](ctx context.Context, r *Runner, what string, op func() (T, error)) (T, error) {
	wrapped := func() (T, error) {
		v, err := op()
		if err == nil {
			return v, nil
		}

		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return v, backoff.Permanent(err)
		}

		if errors.Is(err, ErrUnknownOutcome) || ctx.Err() != nil {
			return v, backoff.Permanent(err)
		}

		return v, err
	}

	notify := func(err error, wait time.Duration) {
		r.cfg.Logger.InfofCtx(ctx, "%s failed, retrying in %s: %v", what, wait, err)
	}

	b := backoff.WithContext(r.cfg.NewBackoff(), ctx)

	return backoff.RetryNotifyWithData(wrapped, b, notify)
}
