package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/snapwatch/pkg/client"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := buildRoot()
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// buildRoot creates the root command and all subcommands
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	c := newCommand(globalFlags)

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(c, globalFlags),
		createEntriesCommand(c),
		createListCommand(c),
		createBackupCommand(c),
		createRestoreCommand(c),
		createDeleteCommand(c),
		createAddCommand(c),
		createRemoveCommand(c),
		createRenameCommand(c),
		createProcessesCommand(c),
		createHistoryCommand(c),
		createChecksumCommand(c),
	)
	return root
}

// createRootCommand creates the root command with persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "snapwatch",
		Short: "Back up files when the programs that edit them exit",
		Long: `Snapwatch watches tracked programs and, when one exits after its source
file or directory changed, copies the source into a timestamped backup.

Examples:
  snapwatch serve --config=snapwatch.toml          # Start the watcher daemon
  snapwatch list notepad                           # Backups of one entry
  snapwatch restore notepad --backup=20261016T142530Z
  snapwatch entries --api-url=http://127.0.0.1:8765/api`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "running daemon URL (e.g. "+client.DefaultBaseURL+")")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 5*time.Minute, "request timeout")
	root.PersistentFlags().BoolVar(&flags.JSON, "json", false, "print JSON instead of tables")

	return root
}

// createServeCommand creates the serve subcommand
func createServeCommand(c *command, global *GlobalFlags) *cobra.Command {
	f := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the watcher daemon",
		Long: `Poll tracked processes, back up changed sources when they exit and serve
the HTTP API and metrics when enabled in the config.

Examples:
  snapwatch serve --config=snapwatch.toml
  snapwatch serve --config=snapwatch.toml --confirm     # ask before each backup
  snapwatch serve --config=snapwatch.toml --dry-run     # log decisions only`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = global.ConfigPath
			return c.Serve(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "", "HTTP API address, enables the API (overrides server.listen)")
	cmd.Flags().BoolVar(&f.Confirm, "confirm", false, "ask on stdin before creating change-triggered backups")
	cmd.Flags().BoolVar(&f.DryRun, "dry-run", false, "log backup decisions without creating backups")
	cmd.Flags().BoolVar(&f.NoServer, "no-server", false, "do not serve the HTTP API")
	return cmd
}

func createEntriesCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "entries",
		Short: "Show tracked entries with resolved paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Entries(cmd.Context())
		},
	}
}

func createListCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "list <process>",
		Short: "List backups of an entry, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.List(cmd.Context(), args[0])
		},
	}
}

func createBackupCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "backup <process>",
		Short: "Create a backup of an entry now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Backup(cmd.Context(), args[0])
		},
	}
}

func createRestoreCommand(c *command) *cobra.Command {
	f := &RestoreFlags{}
	cmd := &cobra.Command{
		Use:   "restore <process>",
		Short: "Restore an entry's source from a backup",
		Long: `Copy a backup over the entry's source. Files only present in the source
are kept. Without --backup the latest backup is used.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Process = args[0]
			return c.Restore(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Backup, "backup", "", "backup name (default: latest)")
	return cmd
}

func createDeleteCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <process> <backup>",
		Short: "Delete one backup of an entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Delete(cmd.Context(), DeleteFlags{Process: args[0], Backup: args[1]})
		},
	}
}

func createAddCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "add <process> <source> <destination>",
		Short: "Start tracking a process",
		Long: `Track a process: back up source under destination when the process exits
after source changed. Paths may use $VAR, ${VAR} or %VAR%.

Without --api-url the entry is written to the config's tracking_file, which a
running daemon reloads.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Add(cmd.Context(), AddFlags{Process: args[0], Source: args[1], Destination: args[2]})
		},
	}
}

func createRemoveCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <process>",
		Short: "Stop tracking a process; its backups are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Remove(cmd.Context(), args[0])
		},
	}
}

func createRenameCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <old> <new>",
		Short: "Rename a tracked entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Rename(cmd.Context(), args[0], args[1])
		},
	}
}

func createProcessesCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "processes",
		Short: "List running process names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Processes(cmd.Context())
		},
	}
}

func createHistoryCommand(c *command) *cobra.Command {
	f := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history [process]",
		Short: "Show recent events from the history sink",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				f.Process = args[0]
			}
			return c.History(cmd.Context(), *f)
		},
	}
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum number of events")
	return cmd
}

func createChecksumCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "checksum <path>",
		Short: "Print the fingerprint of a file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Checksum(args[0])
		},
	}
}
