package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/devports/procwatch/pkg/cli"
)

var Version = "dev"

var (
	configDirFlag string
	logLevelFlag  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "procwatch",
		Short:         "Supervise local helper tools and inspect listening ports",
		Long:          "procwatch starts, stops and health-checks local helper servers and maps processes to the ports they listen on.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTop()
		},
	}
	rootCmd.SetVersionTemplate("procwatch {{.Version}}\n")

	pflags := rootCmd.PersistentFlags()
	pflags.StringVar(&configDirFlag, "config-dir", "", "Override config directory (default: ~/.config/procwatch)")
	pflags.StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")

	// Environment variable bindings
	if v := os.Getenv("PROCWATCH_LOG_LEVEL"); v != "" {
		logLevelFlag = v
	}

	rootCmd.AddCommand(newTopCmd())
	addDiscoveryCommands(rootCmd)
	addToolCommands(rootCmd)
	addLoginCommand(rootCmd)
	addConfigCommands(rootCmd)
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the procwatch version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "procwatch %s\n", Version)
		},
	})
	return rootCmd
}

func newTopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "top",
		Short: "Open the interactive ports and tools view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTop()
		},
	}
}

func runTop() error {
	app, err := cli.NewApp(cli.AppOptions{ConfigDir: configDirFlag, LogLevel: logLevelFlag, LogToFile: true})
	if err != nil {
		return err
	}
	defer closeApp(app)
	return app.TopCmd()
}

// withApp builds the application for one command, cancels ctx on SIGINT or
// SIGTERM and shuts every supervised tool down afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *cli.App) error) error {
	app, err := cli.NewApp(cli.AppOptions{
		ConfigDir: configDirFlag,
		LogLevel:  logLevelFlag,
		Out:       cmd.OutOrStdout(),
		Err:       cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer closeApp(app)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return fn(ctx, app)
}

func closeApp(app *cli.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Close(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: shutdown: %v\n", err)
	}
}
