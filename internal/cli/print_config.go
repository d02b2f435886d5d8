package cli

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"

	flag "github.com/spf13/pflag"

	"github.com/nyash/nyashd/internal/config"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(cfg *config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files it was loaded from.",
		Exec: func(_ context.Context, io *IO, _ []string) error {
			return execPrintConfig(io, cfg)
		},
	}
}

func execPrintConfig(io *IO, cfg *config.Config) error {
	io.Println("effective_cwd=" + cfg.EffectiveCwd)
	io.Println("db_path=" + cfg.DBPathAbs)
	io.Println("listen=" + cfg.Listen)
	io.Println("stale_timeout=" + cfg.StaleTimeout.String())
	io.Println("open_timeout=" + cfg.OpenTimeout.String())
	io.Println("default_job_len=" + strconv.FormatUint(cfg.DefaultJobLen, 10))
	io.Println("log_level=" + cfg.LogLevel)
	io.Println("log_format=" + cfg.LogFormat)
	io.Println("metrics=" + strconv.FormatBool(cfg.MetricsEnabled()))

	io.Println("")
	io.Println("# sources")

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" {
		io.Println("(defaults only)")
	} else {
		if cfg.Sources.Global != "" {
			io.Println("global_config=" + cfg.Sources.Global)
		}

		if cfg.Sources.Project != "" {
			io.Println("project_config=" + cfg.Sources.Project)
		}
	}

	return nil
}

// InitConfigCmd returns the init-config command.
func InitConfigCmd(cfg *config.Config, env map[string]string) *Command {
	flags := flag.NewFlagSet("init-config", flag.ContinueOnError)
	global := flags.Bool("global", false, "Write the user config instead of "+config.FileName)

	return &Command{
		Flags: flags,
		Usage: "init-config [--global]",
		Short: "Write a default config file",
		Long: "Write an annotated default config to " + config.FileName + " in the working\n" +
			"directory, or to the user config with --global. Existing files are kept.",
		Exec: func(_ context.Context, io *IO, args []string) error {
			if len(args) != 0 {
				return usageErr("init-config takes no arguments")
			}

			path := filepath.Join(cfg.EffectiveCwd, config.FileName)

			if *global {
				path = config.GlobalPath(env)
				if path == "" {
					return errors.New("cannot locate user config: neither XDG_CONFIG_HOME nor HOME is set")
				}
			}

			err := config.WriteDefault(path)
			if err != nil {
				return err
			}

			io.Println("wrote " + path)

			return nil
		},
	}
}
