// Package cli holds the vitae command line: the HTTP server plus the
// schema and publishing maintenance commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vitae/vitae/backend/go-services/internal/config"
	"github.com/vitae/vitae/backend/go-services/internal/primary"
	"github.com/vitae/vitae/backend/go-services/internal/server"
	"github.com/vitae/vitae/backend/go-services/internal/tokens"
	"github.com/vitae/vitae/backend/go-services/pkg/logger"
)

// loadConfig is swapped out in tests.
var loadConfig = config.LoadConfig

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	var cfg *config.Config
	root := &cobra.Command{
		Use:          "vitae",
		Short:        "vitae personal site backend",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger.Init(cfg.LogLevel)
			logger.Debugf("startup: LOG_LEVEL=%s", logger.LevelString())
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}
	conf := func() *config.Config { return cfg }

	root.AddCommand(serveCmd(conf))
	root.AddCommand(installCmd(conf, true))
	root.AddCommand(installCmd(conf, false))
	root.AddCommand(publishCmd(conf))
	root.AddCommand(tokenCmd(conf))
	return root
}

func serveCmd(conf func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			srv, err := server.New(ctx, conf())
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
}

// installCmd builds "install" or, with up false, "uninstall".
func installCmd(conf func() *config.Config, up bool) *cobra.Command {
	use, short := "install", "Create the collections, tables and indexes of the storage driver"
	if !up {
		use, short = "uninstall", "Drop everything install created"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := conf()
			ctx := cmd.Context()
			b, err := server.OpenBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close(context.Background()) }()
			if up {
				err = b.Installer.Install(ctx)
			} else {
				err = b.Installer.Uninstall(ctx)
			}
			if err != nil {
				return fmt.Errorf("%s %s: %w", use, cfg.Storage.Driver, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s done\n", cfg.Storage.Driver, use)
			return nil
		},
	}
}

func publishCmd(conf func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Write every static record to the publish bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := conf()
			ctx := cmd.Context()
			b, err := server.OpenBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close(context.Background()) }()
			svc := primary.New(b.Stores, primary.Options{
				Editing:     cfg.Editing.Enabled,
				DefaultUser: cfg.Editing.DefaultUser,
				Publisher:   b.Publisher,
			})
			keys, err := svc.Republish(ctx)
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %d statics\n", len(keys))
			return nil
		},
	}
}

func tokenCmd(conf func() *config.Config) *cobra.Command {
	var (
		sub  string
		name string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 editor token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := conf()
			if ttl <= 0 {
				ttl = cfg.JWT.TTL
			}
			tok, err := tokens.GenerateAccessToken(cfg, sub, name, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", config.DefaultUser, "subject recorded as the acting user")
	cmd.Flags().StringVar(&name, "name", "", "display name claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default JWT_TTL_MINUTES)")
	return cmd
}
