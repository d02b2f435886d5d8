package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
)

// Command is one nyashd subcommand.
type Command struct {
	// Flags holds the subcommand's own flags. Global flags are parsed
	// before the subcommand is looked up and never reach this set.
	Flags *flag.FlagSet

	// Usage is the synopsis after "nyashd", starting with the command name,
	// e.g. "range <id>" or "work --base hex --target hex [flags]".
	Usage string

	// Short is the line shown in the command list.
	Short string

	// Long replaces Short in "nyashd <command> --help" when set.
	Long string

	// Exec receives the positional arguments left after flag parsing.
	// Errors wrapping errUsage also print the synopsis.
	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name is the first word of Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine formats the command for the command list.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-26s %s", c.Usage, c.Short)
}

// PrintHelp writes the synopsis, description and flag defaults to stdout.
func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage: nyashd", c.Usage)
	o.Println()

	if c.Long != "" {
		o.Println(c.Long)
	} else {
		o.Println(c.Short)
	}

	if !c.Flags.HasFlags() {
		return
	}

	var defaults strings.Builder

	c.Flags.SetOutput(&defaults)
	c.Flags.PrintDefaults()

	o.Println()
	o.Println("Flags:")
	o.Printf("%s", defaults.String())
}

// Run parses args and calls Exec. It returns the process exit code: 0 on
// success or --help, 1 on a flag, usage or command error.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	// pflag would print its own usage on error; errors are reported below.
	c.Flags.SetOutput(&strings.Builder{})

	err := c.Flags.Parse(args)

	switch {
	case errors.Is(err, flag.ErrHelp):
		c.PrintHelp(o)

		return 0
	case err != nil:
		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		o.ErrPrintln("Usage: nyashd", c.Usage)

		return 1
	}

	err = c.Exec(ctx, o, c.Flags.Args())
	if err != nil {
		o.ErrPrintln("error:", err)

		if errors.Is(err, errUsage) {
			o.ErrPrintln("Usage: nyashd", c.Usage)
		}

		return 1
	}

	return o.Finish()
}
