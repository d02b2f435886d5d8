package cli_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nyash/nyashd/internal/cli"
)

func Test_Acquire_Then_Commit_When_Ledger_Is_Fresh(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	out := c.MustRun("acquire", "--len", "16")

	cli.AssertContains(t, out, "outcome=issued")
	cli.AssertContains(t, out, "id=0")
	cli.AssertContains(t, out, "start_key=00000000000000000000000000000001")
	cli.AssertContains(t, out, "len=16")

	if _, err := os.Stat(c.DBPath()); err != nil {
		t.Fatalf("ledger file not created: %v", err)
	}

	jobs := c.MustRun("jobs")
	if got := strings.Count(jobs, "\n") + 1; got != 1 {
		t.Fatalf("jobs lines = %d, want 1\n%s", got, jobs)
	}

	if !strings.HasPrefix(jobs, "0 ") {
		t.Errorf("jobs = %q, want job 0 first", jobs)
	}

	stdout, stderr, code := c.Run("stats")
	if code != 0 {
		t.Fatalf("stats exit = %d, stderr: %s", code, stderr)
	}

	cli.AssertContains(t, stdout, "ranges=65536")
	cli.AssertContains(t, stdout, "jobs=1")
	cli.AssertContains(t, stdout, "stale_jobs=0")
	cli.AssertNotContains(t, stderr, "warning:")

	if got, want := c.MustRun("commit", "0"), "committed=true"; got != want {
		t.Errorf("commit = %q, want %q", got, want)
	}

	stdout, stderr, code = c.Run("commit", "0")
	if code != 0 {
		t.Fatalf("second commit exit = %d, stderr: %s", code, stderr)
	}

	cli.AssertContains(t, stdout, "committed=false")
	cli.AssertContains(t, stderr, "warning: job 0 is not outstanding")

	if got := c.MustRun("jobs"); got != "" {
		t.Errorf("jobs after commit = %q, want empty", got)
	}
}

func Test_Acquire_Uses_Default_Job_Len_From_Config(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteConfig(`{
		// small jobs for the test
		"default_job_len": 5,
	}`)

	out := c.MustRun("acquire")

	cli.AssertContains(t, out, "len=5")
}

func Test_Progress_Is_Zero_When_Ledger_Is_Fresh(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	cli.AssertContains(t, c.MustRun("progress"), "progress=0.000000000000")
}

func Test_Range_Shows_Initial_State(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	out := c.MustRun("range", "1")

	cli.AssertContains(t, out, "id=1")
	cli.AssertContains(t, out, "tweak_current=00010000000000000000000000000000")
	cli.AssertContains(t, out, "key_progress=00000000000000000000000000000000")
	cli.AssertContains(t, out, "available=true")
	cli.AssertContains(t, out, "retired=false")
}

func Test_Range_Fails_When_Id_Is_Out_Of_Bounds(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	cli.AssertContains(t, c.MustFail("range", "65536"), "range not found")
	cli.AssertContains(t, c.MustFail("range", "abc"), "range id")
	cli.AssertContains(t, c.MustFail("range"), "exactly one id")
}

func Test_Db_Flag_Overrides_Config(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("--db", "other/ledger.db", "acquire", "--len", "1")

	if _, err := os.Stat(filepath.Join(c.Dir, "other", "ledger.db")); err != nil {
		t.Fatalf("ledger not at --db path: %v", err)
	}

	if _, err := os.Stat(c.DBPath()); !os.IsNotExist(err) {
		t.Errorf("default ledger path touched: %v", err)
	}
}

func Test_Print_Config_Shows_Sources(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	out := c.MustRun("print-config")
	cli.AssertContains(t, out, "db_path="+c.DBPath())
	cli.AssertContains(t, out, "stale_timeout=20m0s")
	cli.AssertContains(t, out, "(defaults only)")

	c.WriteConfig(`{"listen": "0.0.0.0:9000"}`)

	out = c.MustRun("print-config")
	cli.AssertContains(t, out, "listen=0.0.0.0:9000")
	cli.AssertContains(t, out, "project_config="+filepath.Join(c.Dir, ".nyashd.json"))
}

func Test_Init_Config_Writes_Once(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	out := c.MustRun("init-config")
	cli.AssertContains(t, out, "wrote "+filepath.Join(c.Dir, ".nyashd.json"))

	// The written file must load back.
	cli.AssertContains(t, c.MustRun("print-config"), "project_config=")

	cli.AssertContains(t, c.MustFail("init-config"), "already exists")
}

func Test_Init_Config_Global_Uses_XDG_Config_Home(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	xdg := t.TempDir()
	c.Env["XDG_CONFIG_HOME"] = xdg

	c.MustRun("init-config", "--global")

	want := filepath.Join(xdg, "nyashd", "config.json")
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("global config not written: %v", err)
	}

	cli.AssertContains(t, c.MustRun("print-config"), "global_config="+want)
}
