package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/devports/procwatch/pkg/cli"
)

var (
	portsPIDsFlag []int
	portsTreeFlag int
	portsDevFlag  bool
	jsonFlag      bool

	runPortFlag   uint16
	runAPIKeyFlag string
	runArgsFlag   string

	logsLinesFlag int

	loginURLFlag       string
	loginClientIDFlag  string
	loginScopesFlag    []string
	loginTimeoutFlag   time.Duration
	loginNoBrowserFlag bool

	configForceFlag bool
)

func addDiscoveryCommands(parent *cobra.Command) {
	ports := &cobra.Command{
		Use:   "ports",
		Short: "List listening TCP ports",
		Long: `List listening TCP ports with the owning process.

Without --pid or --tree the whole system is scanned.

Examples:
  procwatch ports --dev
  procwatch ports --pid 4242 --pid 4250
  procwatch ports --tree 4242 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				return app.PortsCmd(ctx, cli.PortsOptions{
					PIDs: portsPIDsFlag,
					Tree: portsTreeFlag,
					Dev:  portsDevFlag,
					JSON: jsonFlag,
				})
			})
		},
	}
	flags := ports.Flags()
	flags.IntSliceVar(&portsPIDsFlag, "pid", nil, "Only ports owned by this pid (repeatable)")
	flags.IntVar(&portsTreeFlag, "tree", 0, "Only ports owned by this pid or its descendants")
	flags.BoolVar(&portsDevFlag, "dev", false, "Only ports that look like development servers")
	flags.BoolVar(&jsonFlag, "json", false, "Output as JSON")
	parent.AddCommand(ports)

	parent.AddCommand(&cobra.Command{
		Use:   "tree PID",
		Short: "Show a process and its descendants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				return app.TreeCmd(ctx, pid)
			})
		},
	})

	parent.AddCommand(&cobra.Command{
		Use:   "name PID",
		Short: "Print the name of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				return app.NameCmd(ctx, pid)
			})
		},
	})

	parent.AddCommand(&cobra.Command{
		Use:   "check PORT",
		Short: "Probe a local port over HTTP, then TCP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.ParseUint(args[0], 10, 16)
			if err != nil || port == 0 {
				return fmt.Errorf("invalid port %q", args[0])
			}
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				return app.CheckCmd(ctx, uint16(port))
			})
		},
	})
}

func addToolCommands(parent *cobra.Command) {
	tools := &cobra.Command{
		Use:   "tools",
		Short: "List configured tools and their last run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				return app.ToolsCmd(jsonFlag)
			})
		},
	}
	tools.Flags().BoolVar(&jsonFlag, "json", false, "Output as JSON")
	parent.AddCommand(tools)

	run := &cobra.Command{
		Use:   "run TOOL",
		Short: "Start a tool and keep it in the foreground until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				return app.RunCmd(ctx, args[0], runOptions())
			})
		},
	}
	addRunFlags(run)
	run.Flags().StringVar(&runArgsFlag, "args", "", "Extra arguments for the tool (quoted string)")
	parent.AddCommand(run)

	healthCmd := &cobra.Command{
		Use:   "health TOOL",
		Short: "Start a tool, probe its status endpoint and stop it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				return app.HealthCmd(ctx, args[0], runOptions())
			})
		},
	}
	addRunFlags(healthCmd)
	parent.AddCommand(healthCmd)

	logs := &cobra.Command{
		Use:   "logs TOOL",
		Short: "Show the log of a tool's most recent run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				return app.LogsCmd(args[0], logsLinesFlag)
			})
		},
	}
	logs.Flags().IntVar(&logsLinesFlag, "lines", 50, "Number of log lines to show")
	parent.AddCommand(logs)
}

func addRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Uint16Var(&runPortFlag, "port", 0, "Port to pass to the tool (default: first free default port)")
	flags.StringVar(&runAPIKeyFlag, "api-key", "", "API key to pass to the tool (default: freshly generated)")
}

func runOptions() cli.RunOptions {
	return cli.RunOptions{Port: runPortFlag, APIKey: runAPIKeyFlag, Args: runArgsFlag}
}

func addLoginCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Complete a browser authorization-code login on a loopback callback",
		Long: `Open the authorization page, wait for the redirect on a one-shot
loopback listener and print the authorization code with its PKCE verifier.

Examples:
  procwatch login --authorize-url https://auth.example.com/oauth/authorize --client-id cli
  procwatch login --authorize-url https://auth.example.com/authorize --client-id cli --scope openid --no-browser`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				return app.LoginCmd(ctx, cli.LoginOptions{
					AuthorizeURL: loginURLFlag,
					ClientID:     loginClientIDFlag,
					Scopes:       loginScopesFlag,
					Timeout:      loginTimeoutFlag,
					NoBrowser:    loginNoBrowserFlag,
					JSON:         jsonFlag,
				})
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&loginURLFlag, "authorize-url", "", "Authorization endpoint")
	flags.StringVar(&loginClientIDFlag, "client-id", "", "OAuth client id")
	flags.StringSliceVar(&loginScopesFlag, "scope", nil, "Scope to request (repeatable)")
	flags.DurationVar(&loginTimeoutFlag, "timeout", 0, "How long to wait for the redirect (default from config, 300s)")
	flags.BoolVar(&loginNoBrowserFlag, "no-browser", false, "Print the URL instead of opening a browser")
	flags.BoolVar(&jsonFlag, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("authorize-url")
	_ = cmd.MarkFlagRequired("client-id")
	parent.AddCommand(cmd)
}

func addConfigCommands(parent *cobra.Command) {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect or initialize procwatch configuration",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				return app.ConfigShowCmd()
			})
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print where procwatch keeps its files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				return app.ConfigPathCmd()
			})
		},
	})
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config.toml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				return app.ConfigInitCmd(configForceFlag)
			})
		},
	}
	initCmd.Flags().BoolVar(&configForceFlag, "force", false, "Overwrite an existing config.toml")
	cfg.AddCommand(initCmd)
	parent.AddCommand(cfg)
}

func parsePID(s string) (int, error) {
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid %q", s)
	}
	return pid, nil
}
