package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(os.Stdout, slog.Default())
	if err := root.Execute(); err != nil {
		var ee exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with every subcommand attached.
func buildRoot(out io.Writer, logger *slog.Logger) *cobra.Command {
	globalFlags := &GlobalFlags{}
	c := command{out: out, logger: logger}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createServeCommand(globalFlags),
		createRunCommand(globalFlags),
		createUsageCommand(c, globalFlags),
		createStartCommand(c),
		createPsCommand(c),
		createHandleCommand("stop", "Gracefully stop a process", c.Stop),
		createHandleCommand("kill", "Tree-kill a process immediately", c.Kill),
		createHandleCommand("errors", "Show the error log of a process", c.Errors),
		createHandleCommand("dismiss-error", "Clear the last error of a process", c.DismissError),
		createStopAllCommand(c),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "ptyvisor",
		Short: "Pseudo-terminal process supervisor",
		Long: `ptyvisor supervises interactive processes (shells, game servers, CLI tools)
through pseudo-terminals, relays their output, extracts status and error events,
and scrapes usage metrics from an interactive CLI.

Examples:
  ptyvisor serve ptyvisor.toml                              # Start daemon
  ptyvisor start --domain=minecraft --key=1 --cmd=server.jar
  ptyvisor ps
  ptyvisor stop minecraft/1
  ptyvisor run --domain=terminal                            # Attach a local shell
  ptyvisor usage`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags, timeout time.Duration) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (default "+defaultAPIUrl+")")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", timeout, "request timeout")
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the ptyvisor daemon",
		Long: `Start the daemon exposing the HTTP API. Configuration comes from the TOML
file (optional) and PTYVISOR_* environment overrides.

Examples:
  ptyvisor serve
  ptyvisor serve ptyvisor.toml
  ptyvisor serve --daemonize --logfile=/var/log/ptyvisor.out`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServe(serveFlags, args)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file")
	return cmd
}

func createRunCommand(globalFlags *GlobalFlags) *cobra.Command {
	runFlags := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one supervised process attached to this terminal",
		Long: `Run a process under local supervision with this terminal attached.
Status, player count and error events are printed to stderr.
Press Ctrl-] to request a graceful stop.

Examples:
  ptyvisor run --domain=terminal
  ptyvisor run --domain=minecraft --cmd=server.jar --work-dir=/srv/mc`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runFlags.ConfigPath = globalFlags.ConfigPath
			return runAttached(*runFlags)
		},
	}
	cmd.Flags().StringVar(&runFlags.Domain, "domain", "terminal", "terminal, minecraft or fivem")
	cmd.Flags().StringVar(&runFlags.Key, "key", "", "handle key (default: assigned)")
	cmd.Flags().StringVar(&runFlags.Cmd, "cmd", "", "command to run (default: interactive shell)")
	cmd.Flags().StringVar(&runFlags.WorkDir, "work-dir", "", "working directory")
	cmd.Flags().StringArrayVar(&runFlags.Env, "env", nil, "extra environment KEY=VALUE (repeatable)")
	return cmd
}

func createUsageCommand(c command, globalFlags *GlobalFlags) *cobra.Command {
	usageFlags := &UsageFlags{}
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Fetch usage metrics",
		Long: `Fetch usage metrics, in process or through a daemon when --api-url is set.

Examples:
  ptyvisor usage
  ptyvisor usage --api-url=http://127.0.0.1:8080/api --cached`,
		RunE: func(cmd *cobra.Command, args []string) error {
			usageFlags.ConfigPath = globalFlags.ConfigPath
			return c.Usage(*usageFlags)
		},
	}
	cmd.Flags().BoolVar(&usageFlags.Cached, "cached", false, "print the daemon's cached snapshot (daemon only)")
	addAPIFlags(cmd, &usageFlags.APIFlags, 0)
	return cmd
}

func createStartCommand(c command) *cobra.Command {
	f := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a process on the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(*f)
		},
	}
	cmd.Flags().StringVar(&f.Domain, "domain", "terminal", "terminal, minecraft or fivem")
	cmd.Flags().StringVar(&f.Key, "key", "", "handle key (default: assigned)")
	cmd.Flags().StringVar(&f.Cmd, "cmd", "", "command to run")
	cmd.Flags().StringVar(&f.WorkDir, "work-dir", "", "absolute working directory")
	cmd.Flags().StringArrayVar(&f.Env, "env", nil, "extra environment KEY=VALUE (repeatable)")
	cmd.Flags().Uint16Var(&f.Cols, "cols", 0, "terminal columns")
	cmd.Flags().Uint16Var(&f.Rows, "rows", 0, "terminal rows")
	addAPIFlags(cmd, &f.APIFlags, 10*time.Second)
	return cmd
}

func createPsCommand(c command) *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List processes on the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.List(*f)
		},
	}
	addAPIFlags(cmd, f, 10*time.Second)
	return cmd
}

func createStopAllCommand(c command) *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "stop-all",
		Short: "Gracefully stop every process on the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.StopAll(*f)
		},
	}
	addAPIFlags(cmd, f, 10*time.Second)
	return cmd
}

// createHandleCommand builds a command taking a single domain/key argument.
func createHandleCommand(use, short string, run func(HandleFlags) error) *cobra.Command {
	f := &HandleFlags{}
	cmd := &cobra.Command{
		Use:   use + " <domain/key>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Handle = args[0]
			return run(*f)
		},
	}
	addAPIFlags(cmd, &f.APIFlags, 10*time.Second)
	return cmd
}
