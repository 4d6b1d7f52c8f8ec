package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/arcfile/logos/internal/clientconfig"
)

// version is set at build time via ldflags.
var version = "dev"

// defaultSecret is spec.md §6's reserved placeholder: carried through to the
// connection handshake but never validated, matching the non-goal excluding
// real authentication.
const defaultSecret = "default_secret"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagSecret     string
	flagServer     string
	flagClientName string
	flagWatch      bool
	flagVerbose    bool
	flagQuiet      bool
)

// CLIContext bundles the resolved client config and logger for RunE
// handlers, stashed in the command's context by PersistentPreRunE.
type CLIContext struct {
	Config *clientconfig.Config
	Logger *slog.Logger
	Secret string
	Server string
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

// newRootCmd builds the Logos client command: a single action (connect,
// join/create a workspace, reconcile, optionally watch) driven by a single
// optional location positional argument. More than one location argument is
// rejected; without one, the persisted config's location is used.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "logos [location]",
		Short:   "Logos file synchronization client",
		Long:    "Logos connects to a synchronization server, joins or creates a workspace, and keeps a local backend in sync with it.",
		Version: version,
		Args:    cobra.MaximumNArgs(1),

		SilenceErrors: true,
		SilenceUsage:  true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadClientContext(cmd)
		},

		RunE: func(cmd *cobra.Command, args []string) error {
			var location string
			if len(args) > 0 {
				location = args[0]
			}

			return runClient(cmd.Context(), location)
		},
	}

	cmd.PersistentFlags().StringVarP(&flagConfigPath, "config", "c", clientconfig.DefaultPath, "client config file path")
	cmd.PersistentFlags().StringVar(&flagSecret, "secret", defaultSecret, "reserved connection secret")
	cmd.PersistentFlags().StringVar(&flagServer, "server", "ws://localhost:8443/ws/client", "server websocket endpoint")
	cmd.PersistentFlags().StringVar(&flagClientName, "client-name", "", "name announced to the server (defaults to the persisted config value or the local hostname)")
	cmd.PersistentFlags().BoolVar(&flagWatch, "watch", false, "keep running after initial reconciliation, propagating subsequent changes")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

func loadClientContext(cmd *cobra.Command) error {
	logger := buildLogger()

	cfg, err := clientconfig.Load(flagConfigPath)
	if err != nil {
		return fmt.Errorf("loading client config: %w", err)
	}

	if flagClientName != "" {
		cfg.ClientName = flagClientName
	} else if cfg.ClientName == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.ClientName = host
		} else {
			cfg.ClientName = "logos-client"
		}
	}

	cc := &CLIContext{Config: cfg, Logger: logger, Secret: flagSecret, Server: flagServer}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

func buildLogger() *slog.Logger {
	level := slog.LevelWarn

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
