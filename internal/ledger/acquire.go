package ledger

import (
	"context"
	"fmt"
)

// Outcome classifies an AcquireJob call.
type Outcome int

const (
	// OutcomeIssued: a fresh slice was carved from a random available range.
	OutcomeIssued Outcome = iota + 1

	// OutcomeReclaimed: a stale lease was renewed and handed out again. The
	// previous holder may still finish it; the work can run twice.
	OutcomeReclaimed

	// OutcomePending: no range can yield work right now, but leases are
	// outstanding. Their commits (or reclaims) may free more work.
	OutcomePending

	// OutcomeExhausted: every range is retired. Terminal.
	OutcomeExhausted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIssued:
		return "issued"
	case OutcomeReclaimed:
		return "reclaimed"
	case OutcomePending:
		return "pending"
	case OutcomeExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// HasJob reports whether the outcome carries a lease.
func (o Outcome) HasJob() bool {
	return o == OutcomeIssued || o == OutcomeReclaimed
}

// AcquireJob leases work of at most preferredLen keys.
//
// In one write transaction it first reclaims the first stale lease, if any.
// Otherwise it picks a random available range, takes a job id and carves
// the next slice. If no range is available nothing is written and the
// outcome is [OutcomePending] or [OutcomeExhausted].
//
// The returned Job is only meaningful when the outcome [Outcome.HasJob].
func (l *Ledger) AcquireJob(ctx context.Context, preferredLen uint64) (Job, Outcome, error) {
	const op = "acquire job"

	if preferredLen == 0 {
		return Job{}, 0, fmt.Errorf("%s: %w", op, ErrInvalidJobLen)
	}

	var (
		job      Job
		outcome  Outcome
		drained  bool
		stalePre Job
	)

	err := l.update(ctx, op, func(t tables) error {
		now := l.clock.Now()

		stale, found, err := t.jobs.findStale(now, l.staleTimeout)
		if err != nil {
			return err
		}

		if found {
			stalePre = stale

			job, err = t.jobs.renew(stale, now)
			if err != nil {
				return fmt.Errorf("renew job %d: %w", stale.ID, err)
			}

			outcome = OutcomeReclaimed

			return nil
		}

		rangeID, ok, err := t.ranges.pickRandomAvailable(l.rand)
		if err != nil {
			return err
		}

		if !ok {
			outcome = OutcomePending
			if t.jobs.empty() {
				outcome = OutcomeExhausted
			}

			return nil
		}

		r, err := t.ranges.get(rangeID)
		if err != nil {
			return err
		}

		id, err := t.jobs.nextID()
		if err != nil {
			return err
		}

		job, err = r.deriveJob(id, preferredLen, l.layout.KeyMax, now)
		if err != nil {
			return err
		}

		err = t.ranges.put(r)
		if err != nil {
			return fmt.Errorf("put range %d: %w", r.ID, err)
		}

		if r.Dispatched(l.layout.KeyMax) {
			drained = true

			err = t.ranges.setAvailable(r.ID, false)
			if err != nil {
				return fmt.Errorf("mark range %d unavailable: %w", r.ID, err)
			}
		}

		err = t.jobs.put(job)
		if err != nil {
			return fmt.Errorf("put job %d: %w", job.ID, err)
		}

		outcome = OutcomeIssued

		return nil
	})
	if err != nil {
		return Job{}, 0, err
	}

	l.metrics.acquired(outcome)

	switch outcome {
	case OutcomeReclaimed:
		l.log.InfofCtx(ctx, "reclaimed stale job %d (range %d, leased %s)", job.ID, job.RangeID, stalePre.StartTime.Format("2006-01-02T15:04:05Z"))
	case OutcomeIssued:
		l.log.DebugfCtx(ctx, "issued job %d: range %d tweak %s keys %s+%d", job.ID, job.RangeID, job.TweakKey, job.StartKey, job.Len)

		if drained {
			l.log.DebugfCtx(ctx, "range %d fully dispatched for tweak %s", job.RangeID, job.TweakKey)
		}
	case OutcomeExhausted:
		l.log.DebugfCtx(ctx, "acquire: search space exhausted")
	case OutcomePending:
		l.log.DebugfCtx(ctx, "acquire: no available range, waiting on outstanding leases")
	}

	return job, outcome, nil
}
