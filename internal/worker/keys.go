package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/nyash/nyashd/internal/ledger"
	"github.com/nyash/nyashd/pkg/u256"
)

// ErrKeyOverflow reports a lease whose keys do not fit 256 bits on top of
// the base key.
var ErrKeyOverflow = errors.New("key overflows 256 bits")

// FirstKey returns base + lease.StartKey, the first 256-bit key of the lease.
func FirstKey(base u256.Uint256, lease ledger.Job) (u256.Uint256, error) {
	k, carry := base.AddU128(lease.StartKey)
	if carry {
		return u256.Zero, fmt.Errorf("job %d first key: %w", lease.ID, ErrKeyOverflow)
	}

	return k, nil
}

// WalkKeys calls fn with every key of lease in order: base + StartKey + i
// for i in [0, Len). It stops at the first error from fn or when ctx is
// done, checking ctx every 4096 keys.
func WalkKeys(ctx context.Context, base u256.Uint256, lease ledger.Job, fn func(key u256.Uint256) error) error {
	key, err := FirstKey(base, lease)
	if err != nil {
		return err
	}

	for i := uint64(0); i < lease.Len; i++ {
		if i&0xfff == 0 {
			err := ctx.Err()
			if err != nil {
				return err
			}
		}

		err := fn(key)
		if err != nil {
			return err
		}

		if i+1 == lease.Len {
			break
		}

		var carry bool

		key, carry = key.AddU32(1)
		if carry {
			return fmt.Errorf("job %d key %d: %w", lease.ID, i+1, ErrKeyOverflow)
		}
	}

	return nil
}

// TargetSearcher looks for one known key. It is the reference Searcher for
// dry runs and tests; production searchers run the real kernel.
type TargetSearcher struct {
	Base   u256.Uint256
	Target u256.Uint256

	// OnMatch is called when a lease contains Target.
	OnMatch func(lease ledger.Job, key u256.Uint256)
}

// Search reports whether the lease covers Target without walking it.
func (s TargetSearcher) Search(_ context.Context, lease ledger.Job) error {
	first, err := FirstKey(s.Base, lease)
	if err != nil {
		return err
	}

	last, carry := first.Add(u256.FromUint64(lease.Len - 1))
	if carry {
		return fmt.Errorf("job %d last key: %w", lease.ID, ErrKeyOverflow)
	}

	if s.Target.Cmp(first) >= 0 && s.Target.Cmp(last) <= 0 && s.OnMatch != nil {
		s.OnMatch(lease, s.Target)
	}

	return nil
}
