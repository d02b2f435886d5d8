package api

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"lukechampine.com/uint128"

	"github.com/nyash/nyashd/internal/ledger"
	"github.com/nyash/nyashd/pkg/u256"
)

// ErrInvalidU128 reports a 128-bit value that is not 32 hex characters.
var ErrInvalidU128 = errors.New("invalid u128 hex")

// FormatU128 renders v as 32 lowercase hex characters, most significant first.
func FormatU128(v uint128.Uint128) string {
	var b [16]byte

	v.PutBytesBE(b[:])

	return hex.EncodeToString(b[:])
}

// ParseU128 parses the form written by [FormatU128].
func ParseU128(s string) (uint128.Uint128, error) {
	if len(s) != 32 {
		return uint128.Zero, fmt.Errorf("%w: %q has %d chars, want 32", ErrInvalidU128, s, len(s))
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return uint128.Zero, fmt.Errorf("%w: %q", ErrInvalidU128, s)
	}

	return uint128.FromBytesBE(b), nil
}

// Job is a lease on the wire.
type Job struct {
	ID        uint64 `json:"id"`
	RangeID   uint16 `json:"range_id"`
	TweakKey  string `json:"tweak_key"`
	StartKey  string `json:"start_key"`
	Len       uint64 `json:"len"`
	StartTime string `json:"start_time"`

	// StartKeyU256 is StartKey in the 256-bit form workers add to their
	// base key.
	StartKeyU256 string `json:"start_key_u256"`
}

// FromLease converts a ledger lease to its wire form.
func FromLease(j ledger.Job) Job {
	return Job{
		ID:           j.ID,
		RangeID:      j.RangeID,
		TweakKey:     FormatU128(j.TweakKey),
		StartKey:     FormatU128(j.StartKey),
		Len:          j.Len,
		StartTime:    j.StartTime.UTC().Format(time.RFC3339),
		StartKeyU256: u256.FromUint128(j.StartKey).Hex(),
	}
}

// Lease converts the wire form back to a ledger lease.
func (j Job) Lease() (ledger.Job, error) {
	tweak, err := ParseU128(j.TweakKey)
	if err != nil {
		return ledger.Job{}, fmt.Errorf("tweak_key: %w", err)
	}

	start, err := ParseU128(j.StartKey)
	if err != nil {
		return ledger.Job{}, fmt.Errorf("start_key: %w", err)
	}

	var started time.Time

	if j.StartTime != "" {
		started, err = time.Parse(time.RFC3339, j.StartTime)
		if err != nil {
			return ledger.Job{}, fmt.Errorf("start_time: %w", err)
		}
	}

	return ledger.Job{
		ID:        j.ID,
		RangeID:   j.RangeID,
		TweakKey:  tweak,
		StartKey:  start,
		Len:       j.Len,
		StartTime: started.UTC(),
	}, nil
}

// AcquireRequest is the body of POST /v1/jobs. A missing or zero
// PreferredLen uses the server default.
type AcquireRequest struct {
	PreferredLen uint64 `json:"preferred_len,omitempty"`
}

// AcquireResponse carries a job when Outcome is issued or reclaimed.
type AcquireResponse struct {
	Outcome string `json:"outcome"`
	Job     *Job   `json:"job,omitempty"`
}

// CommitRequest is the optional body of POST /v1/jobs/:id/commit. With a
// lease the commit only applies if the id still names that exact slice.
type CommitRequest struct {
	Lease *Job `json:"lease,omitempty"`
}

type CommitResponse struct {
	Committed bool `json:"committed"`
}

type ProgressResponse struct {
	Progress float64 `json:"progress"`
}

type StatsResponse struct {
	Ranges    uint32  `json:"ranges"`
	Available uint32  `json:"available"`
	Retired   uint32  `json:"retired"`
	Draining  uint32  `json:"draining"`
	Jobs      uint64  `json:"jobs"`
	StaleJobs uint64  `json:"stale_jobs"`
	FreeIDs   uint64  `json:"free_ids"`
	Progress  float64 `json:"progress"`
}

// ErrorResponse is the body of every non-2xx reply. Fatal marks an
// invariant violation; the server refuses further writes.
type ErrorResponse struct {
	Error string `json:"error"`
	Fatal bool   `json:"fatal,omitempty"`
}
