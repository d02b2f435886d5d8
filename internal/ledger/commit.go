package ledger

import (
	"context"
	"fmt"
)

// CommitJob confirms the lease with the given id as searched.
//
// It removes the lease, returns the id to the free pool and folds the
// lease length into its range, retiring the range or advancing its tweak
// when the tweak is fully committed. A missing id (already committed, or
// never issued) returns false with a nil error; the call is idempotent.
func (l *Ledger) CommitJob(ctx context.Context, id uint64) (bool, error) {
	return l.commit(ctx, "commit job", id, nil)
}

// CommitLease is CommitJob guarded by the lease contents: it only commits
// when the outstanding job with lease.ID covers exactly the same slice.
//
// Ids are recycled, so a slow worker whose lease was reclaimed, finished by
// someone else and reissued under the same id must not commit the new slice.
// A mismatch returns false.
func (l *Ledger) CommitLease(ctx context.Context, lease Job) (bool, error) {
	return l.commit(ctx, "commit lease", lease.ID, &lease)
}

func (l *Ledger) commit(ctx context.Context, op string, id uint64, expect *Job) (bool, error) {
	var (
		result  string
		job     Job
		retired bool
		stepped bool
	)

	err := l.update(ctx, op, func(t tables) error {
		stored, found, err := t.jobs.get(id)
		if err != nil {
			return err
		}

		if !found {
			result = commitResultNotFound

			return nil
		}

		if expect != nil && !stored.SameSlice(*expect) {
			result = commitResultMismatch

			return nil
		}

		job = stored

		err = t.jobs.remove(id)
		if err != nil {
			return fmt.Errorf("remove job %d: %w", id, err)
		}

		r, err := t.ranges.get(job.RangeID)
		if err != nil {
			return err
		}

		tweak := r.TweakCurrent

		available, err := r.commitWork(job.Len, l.layout.KeyMax)
		if err != nil {
			return err
		}

		retired = !available && r.Retired(l.layout.KeyMax)
		stepped = !r.TweakCurrent.Equals(tweak)

		err = t.ranges.put(r)
		if err != nil {
			return fmt.Errorf("put range %d: %w", r.ID, err)
		}

		err = t.ranges.setAvailable(r.ID, available)
		if err != nil {
			return fmt.Errorf("update availability of range %d: %w", r.ID, err)
		}

		result = commitResultCommitted

		return nil
	})
	if err != nil {
		return false, err
	}

	l.metrics.committed(result)

	switch result {
	case commitResultCommitted:
		l.log.DebugfCtx(ctx, "committed job %d (range %d, %d keys)", job.ID, job.RangeID, job.Len)

		if stepped {
			l.log.DebugfCtx(ctx, "range %d advanced past tweak %s", job.RangeID, job.TweakKey)
		}

		if retired {
			l.metrics.retired()
			l.log.InfofCtx(ctx, "range %d retired", job.RangeID)
		}
	case commitResultMismatch:
		l.log.InfofCtx(ctx, "commit of job %d ignored: lease no longer matches", id)
	}

	return result == commitResultCommitted, nil
}
