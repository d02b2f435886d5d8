package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/nyash/nyashd/internal/config"
	"github.com/nyash/nyashd/internal/ledger"
	"github.com/nyash/nyashd/internal/logger"
	"github.com/nyash/nyashd/internal/worker"
	"github.com/nyash/nyashd/pkg/u256"
)

// WorkCmd returns the work command.
func WorkCmd(cfg *config.Config) *Command {
	flags := flag.NewFlagSet("work", flag.ContinueOnError)
	server := flags.StringP("server", "s", "", "Server URL (default: http://<listen>)")
	n := flags.Uint64P("len", "n", 0, "Preferred job length (default: server default)")
	maxJobs := flags.Int("max-jobs", 0, "Stop after this many jobs (0: until exhausted)")
	base := flags.String("base", "", "Base key as hex, added to every job offset (required)")
	target := flags.String("target", "", "Key to look for, as hex (required)")
	poll := flags.Duration("poll", 5*time.Second, "Wait between polls while no work is available")
	timeout := flags.Duration("timeout", 30*time.Second, "Per-request timeout")

	return &Command{
		Flags: flags,
		Usage: "work --base hex --target hex [flags]",
		Short: "Lease and search jobs from a server",
		Long: "Repeatedly lease a job from the server, check whether it covers the\n" +
			"target key and confirm it. Stops when the search space is exhausted.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) != 0 {
				return usageErr("work takes no arguments")
			}

			if *base == "" || *target == "" {
				return usageErr("--base and --target are required")
			}

			baseKey, err := u256.ParseHex(*base)
			if err != nil {
				return usageErr("--base: %v", err)
			}

			targetKey, err := u256.ParseHex(*target)
			if err != nil {
				return usageErr("--target: %v", err)
			}

			url := *server
			if url == "" {
				url = "http://" + cfg.Listen
			}

			log, err := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
			if err != nil {
				return err
			}

			defer func() { _ = log.Sync() }()

			searcher := worker.TargetSearcher{
				Base:   baseKey,
				Target: targetKey,
				OnMatch: func(lease ledger.Job, key u256.Uint256) {
					o.Println("found " + key.Hex() + " in job " + strconv.FormatUint(lease.ID, 10))
				},
			}

			runner := worker.NewRunner(worker.NewClient(url, *timeout), searcher, worker.RunnerConfig{
				PreferredLen: *n,
				PollInterval: *poll,
				MaxJobs:      *maxJobs,
				Logger:       log,
			})

			sum, err := runner.Run(ctx)

			o.Printf("jobs=%d keys=%d reclaimed=%d lost=%d exhausted=%t\n",
				sum.Jobs, sum.Keys, sum.Reclaimed, sum.Lost, sum.Exhausted)

			if sum.Lost > 0 {
				o.Warn(fmt.Sprintf("%d leases were reissued before commit", sum.Lost), "raise stale_timeout or lower --len")
			}

			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		},
	}
}
