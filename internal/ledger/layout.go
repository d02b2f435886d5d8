package ledger

import (
	"fmt"
	"math/big"

	"lukechampine.com/uint128"
)

// MaxRanges is the number of ranges a range id (u16) can address.
const MaxRanges = 1 << 16

// Layout is the fixed partitioning of the search space.
//
// Production stores always use [DefaultLayout]. Smaller layouts exist so the
// whole lifecycle, including retirement of every range, can be exercised in
// tests.
type Layout struct {
	// Count is the number of ranges, 1..65536.
	Count uint32

	// Span is the number of tweaks per range.
	Span uint128.Uint128

	// KeyMax is the highest key offset searched within one tweak. Offsets
	// 1..KeyMax are dispatched; a tweak is complete once KeyMax offsets are
	// committed.
	KeyMax uint128.Uint128
}

// DefaultLayout splits the 128-bit tweak axis into 65536 ranges of 2^112
// tweaks each, with the full 128-bit key space per tweak.
func DefaultLayout() Layout {
	return Layout{
		Count:  MaxRanges,
		Span:   uint128.New(0, 1<<48),
		KeyMax: uint128.Max,
	}
}

var twoTo128 = new(big.Int).Lsh(big.NewInt(1), 128)

// Validate checks that Count ranges of Span tweaks fit the 128-bit axis.
func (l Layout) Validate() error {
	if l.Count == 0 || l.Count > MaxRanges {
		return fmt.Errorf("%w: count %d outside 1..%d", ErrInvalidLayout, l.Count, MaxRanges)
	}

	if l.Span.IsZero() {
		return fmt.Errorf("%w: span is zero", ErrInvalidLayout)
	}

	if l.KeyMax.IsZero() {
		return fmt.Errorf("%w: key max is zero", ErrInvalidLayout)
	}

	total := new(big.Int).Mul(l.Span.Big(), big.NewInt(int64(l.Count)))
	if total.Cmp(twoTo128) > 0 {
		return fmt.Errorf("%w: %d ranges of %s tweaks exceed 2^128", ErrInvalidLayout, l.Count, l.Span)
	}

	return nil
}

// NewRange returns range id in its initial state. The layout must be valid
// and id < Count.
func (l Layout) NewRange(id uint16) Range {
	start := l.Span.Mul64(uint64(id))

	return Range{
		ID:           id,
		TweakCurrent: start,
		TweakEnd:     start.Add(l.Span.Sub64(1)),
		KeyProgress:  uint128.Zero,
		KeyCommitted: uint128.Zero,
	}
}

// Equal reports whether both layouts partition the space identically.
func (l Layout) Equal(o Layout) bool {
	return l.Count == o.Count && l.Span.Equals(o.Span) && l.KeyMax.Equals(o.KeyMax)
}

func (l Layout) String() string {
	return fmt.Sprintf("count=%d span=%s key_max=%s", l.Count, l.Span, l.KeyMax)
}
