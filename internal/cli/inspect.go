package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/nyash/nyashd/internal/api"
	"github.com/nyash/nyashd/internal/config"
	"github.com/nyash/nyashd/internal/ledger"
	"github.com/nyash/nyashd/internal/logger"
)

// openLedger opens the configured ledger file. It waits up to open_timeout
// for the file lock, so it fails while a server holds the same file.
func openLedger(ctx context.Context, cfg *config.Config, opts ...ledger.Option) (*ledger.Ledger, error) {
	base := []ledger.Option{
		ledger.WithStaleTimeout(time.Duration(cfg.StaleTimeout)),
		ledger.WithOpenTimeout(time.Duration(cfg.OpenTimeout)),
	}

	return ledger.Open(ctx, cfg.DBPathAbs, append(base, opts...)...)
}

// withLedger runs fn against the configured ledger and closes it.
func withLedger(ctx context.Context, cfg *config.Config, fn func(l *ledger.Ledger) error) (err error) {
	l, err := openLedger(ctx, cfg, ledger.WithLogger(logger.Noop{}))
	if err != nil {
		return err
	}

	defer func() {
		closeErr := l.Close()
		if err == nil {
			err = closeErr
		}
	}()

	return fn(l)
}

// ProgressCmd returns the progress command.
func ProgressCmd(cfg *config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("progress", flag.ContinueOnError),
		Usage: "progress",
		Short: "Print the completed share of the search space",
		Long: "Print the completed share of the search space as a ratio and a percentage.\n" +
			"Only whole tweaks count; work inside a range's current tweak is not included.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return withLedger(ctx, cfg, func(l *ledger.Ledger) error {
				p, err := l.Progress(ctx)
				if err != nil {
					return err
				}

				o.Printf("progress=%.12f (%.6f%%)\n", p, p*100)

				return nil
			})
		},
	}
}

// StatsCmd returns the stats command.
func StatsCmd(cfg *config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("stats", flag.ContinueOnError),
		Usage: "stats",
		Short: "Summarize ranges and outstanding leases",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return withLedger(ctx, cfg, func(l *ledger.Ledger) error {
				s, err := l.Stats(ctx)
				if err != nil {
					return err
				}

				o.Println("ranges=" + strconv.FormatUint(uint64(s.Ranges), 10))
				o.Println("available=" + strconv.FormatUint(uint64(s.Available), 10))
				o.Println("draining=" + strconv.FormatUint(uint64(s.Draining), 10))
				o.Println("retired=" + strconv.FormatUint(uint64(s.Retired), 10))
				o.Println("jobs=" + strconv.FormatUint(s.Jobs, 10))
				o.Println("stale_jobs=" + strconv.FormatUint(s.StaleJobs, 10))
				o.Println("free_ids=" + strconv.FormatUint(s.FreeIDs, 10))
				o.Printf("progress=%.12f\n", s.Progress)

				if s.StaleJobs > 0 {
					o.Warn(fmt.Sprintf("%d stale leases", s.StaleJobs), "they are reissued on the next acquire")
				}

				return nil
			})
		},
	}
}

// JobsCmd returns the jobs command.
func JobsCmd(cfg *config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("jobs", flag.ContinueOnError),
		Usage: "jobs",
		Short: "List outstanding leases",
		Long:  "List outstanding leases in id order, one per line:\nid range tweak_key start_key len start_time [stale]",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return withLedger(ctx, cfg, func(l *ledger.Ledger) error {
				jobs, err := l.Jobs(ctx)
				if err != nil {
					return err
				}

				now := time.Now()

				for _, j := range jobs {
					line := fmt.Sprintf("%d %d %s %s %d %s", j.ID, j.RangeID,
						api.FormatU128(j.TweakKey), api.FormatU128(j.StartKey), j.Len,
						j.StartTime.Format(time.RFC3339))

					if j.Stale(now, l.StaleTimeout()) {
						line += " stale"
					}

					o.Println(line)
				}

				return nil
			})
		},
	}
}

// RangeCmd returns the range command.
func RangeCmd(cfg *config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("range", flag.ContinueOnError),
		Usage: "range <id>",
		Short: "Show one range",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return usageErr("range takes exactly one id")
			}

			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return usageErr("range id %q: %v", args[0], err)
			}

			return withLedger(ctx, cfg, func(l *ledger.Ledger) error {
				info, err := l.Range(ctx, uint32(id))
				if err != nil {
					return err
				}

				o.Println("id=" + strconv.FormatUint(uint64(info.ID), 10))
				o.Println("tweak_current=" + api.FormatU128(info.TweakCurrent))
				o.Println("tweak_end=" + api.FormatU128(info.TweakEnd))
				o.Println("key_progress=" + api.FormatU128(info.KeyProgress))
				o.Println("key_committed=" + api.FormatU128(info.KeyCommitted))
				o.Println("available=" + strconv.FormatBool(info.Available))
				o.Println("retired=" + strconv.FormatBool(info.Retired))

				return nil
			})
		},
	}
}

// AcquireCmd returns the acquire command.
func AcquireCmd(cfg *config.Config) *Command {
	flags := flag.NewFlagSet("acquire", flag.ContinueOnError)
	n := flags.Uint64P("len", "n", 0, "Preferred job length (default: default_job_len)")

	return &Command{
		Flags: flags,
		Usage: "acquire [--len N]",
		Short: "Lease one job directly from the ledger file",
		Long: "Lease one job directly from the ledger file, bypassing the server.\n" +
			"Prints the outcome and, for issued or reclaimed leases, the job.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) != 0 {
				return usageErr("acquire takes no arguments")
			}

			want := *n
			if want == 0 {
				want = cfg.DefaultJobLen
			}

			return withLedger(ctx, cfg, func(l *ledger.Ledger) error {
				job, outcome, err := l.AcquireJob(ctx, want)
				if err != nil {
					return err
				}

				o.Println("outcome=" + outcome.String())

				if outcome.HasJob() {
					printJob(o, job)
				}

				return nil
			})
		},
	}
}

// CommitCmd returns the commit command.
func CommitCmd(cfg *config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("commit", flag.ContinueOnError),
		Usage: "commit <id>",
		Short: "Confirm a lease as searched",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return usageErr("commit takes exactly one job id")
			}

			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return usageErr("job id %q: %v", args[0], err)
			}

			return withLedger(ctx, cfg, func(l *ledger.Ledger) error {
				ok, err := l.CommitJob(ctx, id)
				if err != nil {
					return err
				}

				o.Println("committed=" + strconv.FormatBool(ok))

				if !ok {
					o.Warn(fmt.Sprintf("job %d is not outstanding", id), "it was already committed or never issued")
				}

				return nil
			})
		},
	}
}

func printJob(o *IO, j ledger.Job) {
	w := api.FromLease(j)

	o.Println("id=" + strconv.FormatUint(w.ID, 10))
	o.Println("range_id=" + strconv.FormatUint(uint64(w.RangeID), 10))
	o.Println("tweak_key=" + w.TweakKey)
	o.Println("start_key=" + w.StartKey)
	o.Println("start_key_u256=" + w.StartKeyU256)
	o.Println("len=" + strconv.FormatUint(w.Len, 10))
	o.Println("start_time=" + w.StartTime)
}
