// Package ledger allocates an exhaustive search over a 128-bit tweak axis
// crossed with a 128-bit key space per tweak.
//
// The tweak axis is split into fixed ranges (see [Layout]). Workers lease
// contiguous slices of key offsets ("jobs") with [Ledger.AcquireJob] and
// confirm them with [Ledger.CommitJob]. A lease that is not confirmed within
// the stale timeout is handed to the next caller unchanged, so work may run
// twice but is never lost. [Ledger.Progress] reports the completed share.
//
// All state lives in one bbolt file:
//
//	ranges            u16 id -> tweak_current, tweak_end, key_progress, key_committed
//	ranges_available  u16 id -> (empty)   ranges that can yield a new slice
//	jobs              u64 id -> range, tweak, start_key, len, start_time
//	jobs_free_ids     u64 id -> (empty)   committed ids awaiting reuse
//	meta              version, layout
//
// Every mutation is one write transaction. A bookkeeping bug surfaces as an
// [*InvariantError]; the transaction is rolled back and the Ledger refuses
// further writes.
package ledger
