// Package cli implements the nyashd command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/nyash/nyashd/internal/config"
)

// Run is the main entry point. Returns exit code.
//
// sigCh may be nil. A signal on it cancels the context handed to the
// running command.
func Run(_ io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globals := flag.NewFlagSet("nyashd", flag.ContinueOnError)
	globals.SetInterspersed(false)
	globals.SetOutput(&strings.Builder{})

	workDir := globals.StringP("cwd", "C", "", "Run as if started in `dir`")
	configPath := globals.StringP("config", "c", "", "Use the config `file` instead of .nyashd.json")
	dbPath := globals.String("db", "", "Ledger file `path` (overrides db_path)")
	help := globals.BoolP("help", "h", false, "Show help")

	var rest []string
	if len(args) > 1 {
		rest = args[1:]
	}

	err := globals.Parse(rest)
	if err != nil {
		fprintln(errOut, "error:", err)
		fprintln(errOut)
		printUsage(errOut, globals, nil)

		return 1
	}

	remaining := globals.Args()

	if *help || len(remaining) == 0 {
		printUsage(out, globals, allCommands(&config.Config{}, env))

		return 0
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: *workDir,
		ConfigPath:      *configPath,
		DBPathOverride:  *dbPath,
		Env:             env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	name := remaining[0]

	var cmd *Command

	for _, c := range allCommands(&cfg, env) {
		if c.Name() == name {
			cmd = c

			break
		}
	}

	if cmd == nil {
		fprintln(errOut, "error: unknown command:", name)
		printUsage(errOut, globals, allCommands(&cfg, env))

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	return cmd.Run(ctx, NewIO(out, errOut), remaining[1:])
}

func allCommands(cfg *config.Config, env map[string]string) []*Command {
	return []*Command{
		ServeCmd(cfg),
		WorkCmd(cfg),
		ProgressCmd(cfg),
		StatsCmd(cfg),
		JobsCmd(cfg),
		RangeCmd(cfg),
		AcquireCmd(cfg),
		CommitCmd(cfg),
		PrintConfigCmd(cfg),
		InitConfigCmd(cfg, env),
	}
}

// errUsage marks bad positional arguments.
var errUsage = errors.New("usage")

func usageErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, globals *flag.FlagSet, cmds []*Command) {
	fprintln(w, `nyashd - distributed search-space allocation ledger

Usage: nyashd [global flags] <command> [args]

Global flags:`)
	fprintln(w, strings.TrimRight(globals.FlagUsages(), "\n"))

	if len(cmds) == 0 {
		return
	}

	fprintln(w)
	fprintln(w, "Commands:")

	for _, c := range cmds {
		fprintln(w, c.HelpLine())
	}

	fprintln(w)
	fprintln(w, `Run "nyashd <command> --help" for command flags.`)
}
