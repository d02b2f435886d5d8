package ledger

import (
	"math"
	"time"

	"lukechampine.com/uint128"
	bolt "go.etcd.io/bbolt"
)

// DefaultStaleTimeout is how long a lease may go uncommitted before the next
// AcquireJob hands it to another worker.
const DefaultStaleTimeout = 1200 * time.Second

// Job is one outstanding lease of Len consecutive key offsets, starting at
// StartKey, within tweak TweakKey of range RangeID.
//
// Ids are unique among outstanding jobs only; they are recycled after commit.
type Job struct {
	ID        uint64
	RangeID   uint16
	TweakKey  uint128.Uint128
	StartKey  uint128.Uint128
	Len       uint64
	StartTime time.Time
}

// LastKey is the last key offset of the lease, inclusive.
func (j Job) LastKey() uint128.Uint128 {
	return j.StartKey.Add64(j.Len - 1)
}

// SameSlice reports whether o leases exactly the same work as j.
// Id and StartTime are ignored.
func (j Job) SameSlice(o Job) bool {
	return j.RangeID == o.RangeID &&
		j.TweakKey.Equals(o.TweakKey) &&
		j.StartKey.Equals(o.StartKey) &&
		j.Len == o.Len
}

// Stale reports whether more than timeout has passed since the lease was
// issued or renewed. Start times ahead of now are never stale.
func (j Job) Stale(now time.Time, timeout time.Duration) bool {
	started := j.StartTime.Unix()
	current := now.Unix()

	if current <= started {
		return false
	}

	return current-started > int64(timeout/time.Second)
}

func truncateSeconds(t time.Time) time.Time {
	return time.Unix(t.Unix(), 0).UTC()
}

// jobTable is the Job Ledger's view of one transaction.
type jobTable struct {
	jobs    *bolt.Bucket
	freeIDs *bolt.Bucket
}

func (t jobTable) get(id uint64) (Job, bool, error) {
	v := t.jobs.Get(jobKey(id))
	if v == nil {
		return Job{}, false, nil
	}

	job, err := decodeJob(id, v)
	if err != nil {
		return Job{}, false, err
	}

	return job, true, nil
}

func (t jobTable) put(j Job) error {
	return t.jobs.Put(jobKey(j.ID), encodeJob(j))
}

func (t jobTable) empty() bool {
	k, _ := t.jobs.Cursor().First()

	return k == nil
}

// findStale returns the first stale lease in ascending id order.
// It is not the oldest one.
func (t jobTable) findStale(now time.Time, timeout time.Duration) (Job, bool, error) {
	c := t.jobs.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		id, err := decodeJobKey(k)
		if err != nil {
			return Job{}, false, err
		}

		job, err := decodeJob(id, v)
		if err != nil {
			return Job{}, false, err
		}

		if job.Stale(now, timeout) {
			return job, true, nil
		}
	}

	return Job{}, false, nil
}

// renew restarts the lease clock and persists the job unchanged otherwise.
func (t jobTable) renew(j Job, now time.Time) (Job, error) {
	j.StartTime = truncateSeconds(now)

	err := t.put(j)
	if err != nil {
		return Job{}, err
	}

	return j, nil
}

// nextID pops the smallest recycled id, or grows the outstanding id range
// downwards first and then upwards.
func (t jobTable) nextID() (uint64, error) {
	fc := t.freeIDs.Cursor()

	k, _ := fc.First()
	if k != nil {
		id, err := decodeJobKey(k)
		if err != nil {
			return 0, err
		}

		err = fc.Delete()
		if err != nil {
			return 0, err
		}

		return id, nil
	}

	jc := t.jobs.Cursor()

	first, _ := jc.First()
	if first == nil {
		return 0, nil
	}

	minID, err := decodeJobKey(first)
	if err != nil {
		return 0, err
	}

	if minID > 0 {
		return minID - 1, nil
	}

	last, _ := jc.Last()

	maxID, err := decodeJobKey(last)
	if err != nil {
		return 0, err
	}

	if maxID < math.MaxUint64 {
		return maxID + 1, nil
	}

	return 0, invariantf("next job id", "job id space saturated")
}

// remove deletes the lease and returns its id to the free pool.
func (t jobTable) remove(id uint64) error {
	err := t.jobs.Delete(jobKey(id))
	if err != nil {
		return err
	}

	return t.freeIDs.Put(jobKey(id), []byte{})
}
