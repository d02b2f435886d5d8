package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	bolt "go.etcd.io/bbolt"

	"github.com/nyash/nyashd/internal/logger"
)

// Bucket names. They are part of the on-disk format.
var (
	bucketRanges    = []byte("ranges")
	bucketAvailable = []byte("ranges_available")
	bucketJobs      = []byte("jobs")
	bucketFreeIDs   = []byte("jobs_free_ids")
	bucketMeta      = []byte("meta")

	metaVersion = []byte("version")
	metaLayout  = []byte("layout")
)

// Ledger is the handle to one allocation store.
//
// # Concurrency
//
// Safe for concurrent use. Every mutating call runs in one bbolt write
// transaction; bbolt admits one writer at a time and holds an exclusive file
// lock, so no further locking is needed here. Read calls use snapshot
// transactions and never block writers.
type Ledger struct {
	db           *bolt.DB
	path         string
	layout       Layout
	staleTimeout time.Duration
	clock        clockwork.Clock
	rand         Rand
	log          logger.Logger
	metrics      *Metrics

	closed atomic.Bool
	halted atomic.Pointer[InvariantError]
}

// Open opens or creates the store at path.
//
// A new store is initialized in a single transaction: every range is created
// in its initial state and marked available. An existing store must have
// been created with the same layout unless [WithLayout] is omitted, in which
// case the stored layout is adopted.
func Open(ctx context.Context, path string, opts ...Option) (*Ledger, error) {
	if ctx == nil {
		return nil, errors.New("open ledger: context is nil")
	}

	if path == "" {
		return nil, errors.New("open ledger: path is empty")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	err := cfg.layout.Validate()
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	err = os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		return nil, fmt.Errorf("open ledger: create directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: cfg.openTimeout, NoSync: cfg.noSync})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	layout, created, err := initialize(db, cfg.layout, cfg.layoutSet)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("open ledger: %w", err)
	}

	l := &Ledger{
		db:           db,
		path:         path,
		layout:       layout,
		staleTimeout: cfg.staleTimeout,
		clock:        cfg.clock,
		rand:         cfg.rand,
		log:          cfg.log,
		metrics:      cfg.metrics,
	}

	if created {
		l.log.InfofCtx(ctx, "initialized ledger %s with %s", path, layout)
	}

	return l, nil
}

// initialize creates the tables on first use and checks the stored layout.
func initialize(db *bolt.DB, want Layout, explicit bool) (Layout, bool, error) {
	var (
		layout  Layout
		created bool
	)

	err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRanges, bucketAvailable, bucketJobs, bucketFreeIDs, bucketMeta} {
			_, err := tx.CreateBucketIfNotExists(name)
			if err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}

		meta := tx.Bucket(bucketMeta)

		stored := meta.Get(metaLayout)
		if stored != nil {
			got, err := decodeLayout(stored)
			if err != nil {
				return err
			}

			if explicit && !got.Equal(want) {
				return fmt.Errorf("%w: store has %s, want %s", ErrLayoutMismatch, got, want)
			}

			err = got.Validate()
			if err != nil {
				return corruptf("stored layout: %v", err)
			}

			layout = got

			return nil
		}

		ranges := tx.Bucket(bucketRanges)
		available := tx.Bucket(bucketAvailable)

		if k, _ := ranges.Cursor().First(); k != nil {
			return corruptf("ranges present without layout")
		}

		// Keys are inserted in order; full pages keep the file compact.
		ranges.FillPercent = 1
		available.FillPercent = 1

		for i := range want.Count {
			r := want.NewRange(uint16(i)) //nolint:gosec // Count <= 65536

			err := ranges.Put(rangeKey(r.ID), encodeRange(r))
			if err != nil {
				return fmt.Errorf("put range %d: %w", r.ID, err)
			}

			err = available.Put(rangeKey(r.ID), []byte{})
			if err != nil {
				return fmt.Errorf("mark range %d available: %w", r.ID, err)
			}
		}

		err := meta.Put(metaVersion, encodeVersion(schemaVersion))
		if err != nil {
			return fmt.Errorf("put version: %w", err)
		}

		err = meta.Put(metaLayout, encodeLayout(want))
		if err != nil {
			return fmt.Errorf("put layout: %w", err)
		}

		layout = want
		created = true

		return nil
	})
	if err != nil {
		return Layout{}, false, err
	}

	return layout, created, nil
}

// Close releases the store. Further calls return [ErrClosed].
func (l *Ledger) Close() error {
	if l == nil || !l.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := l.db.Close()
	if err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}

	return nil
}

// Layout returns the partitioning the store was created with.
func (l *Ledger) Layout() Layout {
	return l.layout
}

// StaleTimeout returns the lease timeout.
func (l *Ledger) StaleTimeout() time.Duration {
	return l.staleTimeout
}

// Path returns the store file path.
func (l *Ledger) Path() string {
	return l.path
}

// tables bundles both ledgers' buckets for one transaction.
type tables struct {
	ranges rangeTable
	jobs   jobTable
}

func openTables(tx *bolt.Tx) (tables, error) {
	t := tables{
		ranges: rangeTable{ranges: tx.Bucket(bucketRanges), available: tx.Bucket(bucketAvailable)},
		jobs:   jobTable{jobs: tx.Bucket(bucketJobs), freeIDs: tx.Bucket(bucketFreeIDs)},
	}

	if t.ranges.ranges == nil || t.ranges.available == nil || t.jobs.jobs == nil || t.jobs.freeIDs == nil {
		return tables{}, corruptf("missing table")
	}

	return t, nil
}

func (l *Ledger) check(ctx context.Context, op string) error {
	if ctx == nil {
		return fmt.Errorf("%s: context is nil", op)
	}

	if l == nil || l.closed.Load() {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}

	err := ctx.Err()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// update runs fn in one write transaction. Any error rolls it back. An
// invariant violation additionally halts the ledger.
func (l *Ledger) update(ctx context.Context, op string, fn func(t tables) error) error {
	err := l.check(ctx, op)
	if err != nil {
		return err
	}

	if first := l.halted.Load(); first != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrHalted, first)
	}

	err = l.db.Update(func(tx *bolt.Tx) error {
		t, err := openTables(tx)
		if err != nil {
			return err
		}

		return fn(t)
	})
	if err != nil {
		var inv *InvariantError
		if errors.As(err, &inv) {
			l.halt(ctx, inv)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// view runs fn in one read-only snapshot transaction.
func (l *Ledger) view(ctx context.Context, op string, fn func(t tables) error) error {
	err := l.check(ctx, op)
	if err != nil {
		return err
	}

	err = l.db.View(func(tx *bolt.Tx) error {
		t, err := openTables(tx)
		if err != nil {
			return err
		}

		return fn(t)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (l *Ledger) halt(ctx context.Context, inv *InvariantError) {
	if l.halted.CompareAndSwap(nil, inv) {
		l.log.ErrorfCtx(ctx, "ledger halted: %v", inv)
	}

	l.metrics.invariant()
}

// Halted returns the invariant violation that halted the ledger, or nil.
func (l *Ledger) Halted() error {
	if inv := l.halted.Load(); inv != nil {
		return inv
	}

	return nil
}
