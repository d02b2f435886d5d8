package ledger

import (
	"context"
	"fmt"
)

// Progress returns the completed share of the search space in [0, 1].
//
// It is tweak-granular: keys committed inside a range's current tweak are
// not counted until the tweak is done. It is read-only and runs against a
// snapshot, so it never blocks AcquireJob or CommitJob.
func (l *Ledger) Progress(ctx context.Context) (float64, error) {
	var p float64

	err := l.view(ctx, "progress", func(t tables) error {
		var err error

		p, err = l.progress(t)

		return err
	})
	if err != nil {
		return 0, err
	}

	l.metrics.progress(p)

	return p, nil
}

func (l *Ledger) progress(t tables) (float64, error) {
	var (
		sum  float64
		seen uint32
	)

	c := t.ranges.ranges.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		id, err := decodeRangeKey(k)
		if err != nil {
			return 0, err
		}

		r, err := decodeRange(id, v)
		if err != nil {
			return 0, err
		}

		sum += r.completedRatio(l.layout)
		seen++
	}

	if seen != l.layout.Count {
		return 0, corruptf("found %d ranges, layout has %d", seen, l.layout.Count)
	}

	p := sum / float64(l.layout.Count)
	if p > 1 {
		p = 1
	}

	return p, nil
}

// Stats is a point-in-time summary of the store.
type Stats struct {
	Ranges    uint32
	Available uint32
	Retired   uint32
	// Draining counts ranges that are fully dispatched for their current
	// tweak and wait for outstanding commits.
	Draining  uint32
	Jobs      uint64
	StaleJobs uint64
	FreeIDs   uint64
	Progress  float64
}

// Stats summarizes ranges and leases in one snapshot.
func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	var s Stats

	err := l.view(ctx, "stats", func(t tables) error {
		now := l.clock.Now()

		c := t.ranges.ranges.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			id, err := decodeRangeKey(k)
			if err != nil {
				return err
			}

			r, err := decodeRange(id, v)
			if err != nil {
				return err
			}

			s.Ranges++

			switch {
			case r.Retired(l.layout.KeyMax):
				s.Retired++
			case t.ranges.isAvailable(id):
				s.Available++
			default:
				s.Draining++
			}
		}

		jc := t.jobs.jobs.Cursor()
		for k, v := jc.First(); k != nil; k, v = jc.Next() {
			id, err := decodeJobKey(k)
			if err != nil {
				return err
			}

			job, err := decodeJob(id, v)
			if err != nil {
				return err
			}

			s.Jobs++

			if job.Stale(now, l.staleTimeout) {
				s.StaleJobs++
			}
		}

		s.FreeIDs = uint64(t.jobs.freeIDs.Stats().KeyN) //nolint:gosec // non-negative

		var err error

		s.Progress, err = l.progress(t)

		return err
	})
	if err != nil {
		return Stats{}, err
	}

	l.metrics.progress(s.Progress)

	return s, nil
}

// Jobs lists the outstanding leases in ascending id order.
func (l *Ledger) Jobs(ctx context.Context) ([]Job, error) {
	var jobs []Job

	err := l.view(ctx, "list jobs", func(t tables) error {
		c := t.jobs.jobs.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			id, err := decodeJobKey(k)
			if err != nil {
				return err
			}

			job, err := decodeJob(id, v)
			if err != nil {
				return err
			}

			jobs = append(jobs, job)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return jobs, nil
}

// RangeInfo is a range record together with its availability.
type RangeInfo struct {
	Range
	Available bool
	Retired   bool
}

// Range loads one range. Ids outside the layout return [ErrRangeNotFound].
func (l *Ledger) Range(ctx context.Context, id uint32) (RangeInfo, error) {
	if id >= l.layout.Count {
		return RangeInfo{}, fmt.Errorf("get range %d: %w", id, ErrRangeNotFound)
	}

	var info RangeInfo

	err := l.view(ctx, "get range", func(t tables) error {
		rid := uint16(id) //nolint:gosec // checked against Count above

		r, err := t.ranges.get(rid)
		if err != nil {
			return err
		}

		info = RangeInfo{
			Range:     r,
			Available: t.ranges.isAvailable(rid),
			Retired:   r.Retired(l.layout.KeyMax),
		}

		return nil
	})
	if err != nil {
		return RangeInfo{}, err
	}

	return info, nil
}
