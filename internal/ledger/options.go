package ledger

import (
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nyash/nyashd/internal/logger"
)

// Rand picks a uniform index in [0, n). *rand.Rand from math/rand/v2
// satisfies it.
//
// It is only called inside write transactions, which the store runs one at
// a time, so implementations need not be goroutine-safe.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Option configures [Open].
type Option func(cfg *config)

type config struct {
	layout       Layout
	layoutSet    bool
	staleTimeout time.Duration
	openTimeout  time.Duration
	noSync       bool
	clock        clockwork.Clock
	rand         Rand
	log          logger.Logger
	metrics      *Metrics
}

const defaultOpenTimeout = 10 * time.Second

func defaultConfig() config {
	return config{
		layout:       DefaultLayout(),
		staleTimeout: DefaultStaleTimeout,
		openTimeout:  defaultOpenTimeout,
		clock:        clockwork.NewRealClock(),
		rand:         globalRand{},
		log:          logger.Noop{},
	}
}

// WithLayout fixes the partitioning. Without it a new store gets
// [DefaultLayout] and an existing store keeps whatever it was created with.
func WithLayout(l Layout) Option {
	return func(cfg *config) {
		cfg.layout = l
		cfg.layoutSet = true
	}
}

// WithStaleTimeout sets how long a lease lives before it can be reclaimed.
func WithStaleTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.staleTimeout = d
	}
}

// WithOpenTimeout bounds the wait for the store's file lock.
func WithOpenTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.openTimeout = d
	}
}

// WithNoSync skips fsync on commit. Only for tests.
func WithNoSync() Option {
	return func(cfg *config) {
		cfg.noSync = true
	}
}

// WithClock injects the clock used for lease start times and staleness.
func WithClock(c clockwork.Clock) Option {
	return func(cfg *config) {
		cfg.clock = c
	}
}

// WithRand injects the range selection source.
func WithRand(r Rand) Option {
	return func(cfg *config) {
		cfg.rand = r
	}
}

// WithSeed is WithRand with a PCG source seeded from seed.
func WithSeed(seed uint64) Option {
	return WithRand(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(cfg *config) {
		cfg.log = l
	}
}

// WithMetrics records ledger activity in m.
func WithMetrics(m *Metrics) Option {
	return func(cfg *config) {
		cfg.metrics = m
	}
}
