package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires all subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	startFlags := &StartFlags{}
	stopFlags := &StopFlags{}
	statusFlags := &StatusFlags{}
	healthFlags := &HealthCheckFlags{}
	templateFlags := &TemplateFlags{}

	cliCommand := command{global: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createStartCommand(cliCommand, startFlags),
		createStopCommand(cliCommand, stopFlags),
		createStatusCommand(cliCommand, statusFlags),
		createHealthCheckCommand(cliCommand, healthFlags),
		createTemplateCommand(templateFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "runnerd",
		Short: "Dev server lifecycle manager",
		Long: `Runnerd spawns, health-checks and tears down one dev server per project.

Examples:
  runnerd serve --config=runnerd.toml
  runnerd start --project=web --command="npm run dev" --work-dir=/srv/web
  runnerd status --project=web
  runnerd stop --project=web --force`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8240/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	return root
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the runnerd daemon",
		Long: `Start the runnerd daemon to manage dev servers over HTTP.

Examples:
  runnerd serve                     # Start with built-in defaults
  runnerd serve runnerd.toml        # Start with specific config file
  runnerd serve --daemonize         # Run in the background`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				serveFlags.ConfigPath = args[0]
			}
			return runServe(serveFlags)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write daemon pid to file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon logs to file")
	return cmd
}

func createStartCommand(cliCommand command, flags *StartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a project's dev server",
		Long: `Start a dev server through the daemon. When --port is omitted the daemon
allocates the next free port from its configured range.

Examples:
  runnerd start --project=web --command="npm run dev" --work-dir=/srv/web
  runnerd start --project=api --command="pnpm dev" --work-dir=/srv/api --port=3005`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cliCommand.Start(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ProjectID, "project", "", "project id (required)")
	cmd.Flags().StringVar(&flags.Command, "command", "", "dev command to run (required)")
	cmd.Flags().StringVar(&flags.WorkDir, "work-dir", "", "absolute working directory (required)")
	cmd.Flags().IntVar(&flags.Port, "port", 0, "port the dev server should bind")
	cmd.Flags().StringSliceVar(&flags.EnvKVs, "env", nil, "extra KEY=VALUE environment entries")
	for _, name := range []string{"project", "command", "work-dir"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}
	return cmd
}

func createStopCommand(cliCommand command, flags *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a project's dev server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cliCommand.Stop(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ProjectID, "project", "", "project id (required)")
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 0, "SIGTERM wait before SIGKILL (daemon default when unset)")
	cmd.Flags().StringVar(&flags.Reason, "reason", "cli", "stop reason for the audit trail")
	cmd.Flags().IntVar(&flags.Port, "port", 0, "port used for tunnel close and force kill")
	cmd.Flags().BoolVar(&flags.Force, "force", false, "also kill whatever holds the port")
	if err := cmd.MarkFlagRequired("project"); err != nil {
		panic(err)
	}
	return cmd
}

func createStatusCommand(cliCommand command, flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show dev server status",
		Long: `Show the status of one project, or of every active dev server when
--project is omitted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cliCommand.Status(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ProjectID, "project", "", "project id (all projects when empty)")
	cmd.Flags().BoolVar(&flags.All, "all", false, "include last known rows from previous daemon runs")
	return cmd
}

func createHealthCheckCommand(cliCommand command, flags *HealthCheckFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health-check",
		Short: "Run a health check cycle for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cliCommand.HealthCheck(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ProjectID, "project", "", "project id (required)")
	cmd.Flags().IntVar(&flags.Port, "port", 0, "port to probe (required)")
	for _, name := range []string{"project", "port"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}
	return cmd
}
