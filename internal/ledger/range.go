package ledger

import (
	"math/bits"
	"time"

	"lukechampine.com/uint128"
	bolt "go.etcd.io/bbolt"
)

// Range is one fixed partition of the tweak axis and its progress cursors.
//
// KeyProgress is the highest key offset already dispatched within
// TweakCurrent; the next job starts at KeyProgress+1. KeyCommitted counts
// offsets confirmed searched. KeyCommitted <= KeyProgress always holds.
type Range struct {
	ID           uint16
	TweakCurrent uint128.Uint128
	TweakEnd     uint128.Uint128
	KeyProgress  uint128.Uint128
	KeyCommitted uint128.Uint128
}

// Retired reports whether the whole range has been confirmed searched.
func (r Range) Retired(keyMax uint128.Uint128) bool {
	return r.TweakCurrent.Equals(r.TweakEnd) && r.KeyCommitted.Equals(keyMax)
}

// Dispatched reports whether every key of the current tweak has been leased.
func (r Range) Dispatched(keyMax uint128.Uint128) bool {
	return r.KeyProgress.Equals(keyMax)
}

// deriveJob carves the next slice of the current tweak and advances
// KeyProgress past it.
func (r *Range) deriveJob(jobID uint64, preferredLen uint64, keyMax uint128.Uint128, now time.Time) (Job, error) {
	const op = "derive job"

	if r.KeyProgress.Cmp(keyMax) > 0 {
		return Job{}, invariantf(op, "range %d key progress %s beyond key max %s", r.ID, r.KeyProgress, keyMax)
	}

	room := keyMax.Sub(r.KeyProgress)

	n := preferredLen
	if room.Cmp64(n) < 0 {
		n = room.Lo
	}

	if n == 0 {
		return Job{}, invariantf(op, "range %d yielded a zero-length job (key progress %s)", r.ID, r.KeyProgress)
	}

	job := Job{
		ID:        jobID,
		RangeID:   r.ID,
		TweakKey:  r.TweakCurrent,
		StartKey:  r.KeyProgress.Add64(1),
		Len:       n,
		StartTime: truncateSeconds(now),
	}

	r.KeyProgress = r.KeyProgress.Add64(n)

	return job, nil
}

// commitWork folds n confirmed offsets into the range. It reports whether
// the range can still yield jobs.
//
// A fully committed tweak either retires the range (last tweak) or moves it
// to the next tweak with both counters reset. A fully dispatched but not yet
// fully committed tweak keeps the range unavailable.
func (r *Range) commitWork(n uint64, keyMax uint128.Uint128) (bool, error) {
	const op = "commit work"

	committed, overflow := add64(r.KeyCommitted, n)
	if overflow || committed.Cmp(keyMax) > 0 {
		return false, invariantf(op, "range %d committed %s + %d exceeds key max %s", r.ID, r.KeyCommitted, n, keyMax)
	}

	if committed.Cmp(r.KeyProgress) > 0 {
		return false, invariantf(op, "range %d committed %s beyond dispatched %s", r.ID, committed, r.KeyProgress)
	}

	r.KeyCommitted = committed

	if committed.Equals(keyMax) {
		if r.TweakCurrent.Equals(r.TweakEnd) {
			return false, nil
		}

		r.TweakCurrent = r.TweakCurrent.Add64(1)
		r.KeyProgress = uint128.Zero
		r.KeyCommitted = uint128.Zero

		return true, nil
	}

	if r.KeyProgress.Equals(keyMax) {
		return false, nil
	}

	return true, nil
}

// completedRatio is the share of the range's tweaks that are fully done.
// Partial progress inside the current tweak is not counted.
func (r Range) completedRatio(l Layout) float64 {
	if r.Retired(l.KeyMax) {
		return 1
	}

	left := r.TweakEnd.Sub(r.TweakCurrent)

	return 1 - (toFloat(left)+1)/toFloat(l.Span)
}

func add64(u uint128.Uint128, n uint64) (uint128.Uint128, bool) {
	lo, carry := bits.Add64(u.Lo, n, 0)
	hi, overflow := bits.Add64(u.Hi, 0, carry)

	return uint128.New(lo, hi), overflow != 0
}

func toFloat(u uint128.Uint128) float64 {
	return float64(u.Hi)*0x1p64 + float64(u.Lo)
}

// rangeTable is the Range Ledger's view of one write or read transaction.
type rangeTable struct {
	ranges    *bolt.Bucket
	available *bolt.Bucket
}

func (t rangeTable) get(id uint16) (Range, error) {
	v := t.ranges.Get(rangeKey(id))
	if v == nil {
		return Range{}, corruptf("range %d missing", id)
	}

	return decodeRange(id, v)
}

func (t rangeTable) put(r Range) error {
	return t.ranges.Put(rangeKey(r.ID), encodeRange(r))
}

// availableIDs lists the ids in the available set in ascending order.
func (t rangeTable) availableIDs() ([]uint16, error) {
	ids := make([]uint16, 0, 64)

	c := t.available.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		id, err := decodeRangeKey(k)
		if err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	return ids, nil
}

// pickRandomAvailable chooses uniformly among available ranges.
func (t rangeTable) pickRandomAvailable(rnd Rand) (uint16, bool, error) {
	ids, err := t.availableIDs()
	if err != nil {
		return 0, false, err
	}

	if len(ids) == 0 {
		return 0, false, nil
	}

	return ids[rnd.IntN(len(ids))], true, nil
}

func (t rangeTable) setAvailable(id uint16, available bool) error {
	if available {
		return t.available.Put(rangeKey(id), []byte{})
	}

	return t.available.Delete(rangeKey(id))
}

func (t rangeTable) isAvailable(id uint16) bool {
	k := rangeKey(id)
	got, _ := t.available.Cursor().Seek(k)

	return got != nil && string(got) == string(k)
}
