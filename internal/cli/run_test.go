package cli_test

import (
	"bytes"
	"testing"

	"github.com/nyash/nyashd/internal/cli"
)

func Test_Invalid_Global_Flag_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout, stderr, exitCode := c.Run("--invalid-flag", "stats")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	if got, want := stdout, ""; got != want {
		t.Errorf("stdout=%q, want=%q", got, want)
	}

	cli.AssertContains(t, stderr, "unknown flag")
	cli.AssertContains(t, stderr, "--invalid-flag")

	// Should show valid global options
	cli.AssertContains(t, stderr, "Global flags:")
	cli.AssertContains(t, stderr, "--help")
	cli.AssertContains(t, stderr, "--cwd")
	cli.AssertContains(t, stderr, "--config")
	cli.AssertContains(t, stderr, "--db")
}

func Test_Bare_Command_When_Invoked(t *testing.T) {
	t.Parallel()

	// Call Run directly without test helper (which adds --cwd)
	var stdout, stderr bytes.Buffer

	exitCode := cli.Run(nil, &stdout, &stderr, []string{"nyashd"}, nil, nil)

	if got, want := exitCode, 0; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	if got, want := stderr.String(), ""; got != want {
		t.Errorf("stderr=%q, want=%q", got, want)
	}

	cli.AssertContains(t, stdout.String(), "nyashd - distributed search-space allocation ledger")
	cli.AssertContains(t, stdout.String(), "--cwd")
	cli.AssertContains(t, stdout.String(), "serve [--listen addr]")
	cli.AssertContains(t, stdout.String(), "range <id>")
}

func Test_Main_Help_When_Invoked(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name string
		args []string
	}{
		{name: "long flag", args: []string{"--help"}},
		{name: "short flag", args: []string{"-h"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := cli.NewCLI(t)
			stdout, stderr, exitCode := c.Run(tt.args...)

			if got, want := exitCode, 0; got != want {
				t.Errorf("exitCode=%d, want=%d", got, want)
			}

			if got, want := stderr, ""; got != want {
				t.Errorf("stderr=%q, want=%q", got, want)
			}

			cli.AssertContains(t, stdout, "Commands:")
			cli.AssertContains(t, stdout, "acquire [--len N]")
			cli.AssertContains(t, stdout, "commit <id>")
			cli.AssertContains(t, stdout, "work --base hex --target hex")
		})
	}
}

func Test_Unknown_Command_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("frobnicate")

	cli.AssertContains(t, stderr, "unknown command: frobnicate")
	cli.AssertContains(t, stderr, "Commands:")
}

func Test_Command_Help_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("acquire", "--help")

	cli.AssertContains(t, stdout, "Usage: nyashd acquire [--len N]")
	cli.AssertContains(t, stdout, "bypassing the server")
	cli.AssertContains(t, stdout, "Flags:")
	cli.AssertContains(t, stdout, "--len")
}

func Test_Invalid_Command_Flag_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("acquire", "--invalid-flag")

	cli.AssertContains(t, stderr, "error:")
	cli.AssertContains(t, stderr, "unknown flag")
	cli.AssertContains(t, stderr, "Usage: nyashd acquire [--len N]")
}

func Test_Invalid_Config_Fails_Before_Command_Runs(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteConfig(`{"stale_timeout": "500ms"}`)

	stderr := c.MustFail("stats")

	cli.AssertContains(t, stderr, "stale_timeout")
}

func Test_Bad_Arguments_Print_Command_Usage(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	stderr := c.MustFail("range")
	cli.AssertContains(t, stderr, "error: usage: range takes exactly one id")
	cli.AssertContains(t, stderr, "Usage: nyashd range <id>")

	// Ledger errors are not usage errors.
	stderr = c.MustFail("range", "65536")
	cli.AssertNotContains(t, stderr, "Usage:")
}

func Test_Command_Help_Without_Flags_Omits_Flag_Section(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("stats", "--help")

	cli.AssertContains(t, stdout, "Usage: nyashd stats")
	cli.AssertContains(t, stdout, "Summarize ranges and outstanding leases")
	cli.AssertNotContains(t, stdout, "Flags:")
}
