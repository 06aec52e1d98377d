package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/smallbiznis/upimatch/internal/clock"
	"github.com/smallbiznis/upimatch/internal/config"
	"github.com/smallbiznis/upimatch/internal/migration"
	"github.com/smallbiznis/upimatch/internal/observability"
	"github.com/smallbiznis/upimatch/internal/ratelimit"
	"github.com/smallbiznis/upimatch/internal/receipt"
	"github.com/smallbiznis/upimatch/internal/reconcile"
	"github.com/smallbiznis/upimatch/internal/server"
	"github.com/smallbiznis/upimatch/internal/sweeper"
	"github.com/smallbiznis/upimatch/pkg/db"
)

var nodeID int64

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, SMS webhook and sweeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		newApp(config.Load()).Run()
		return nil
	},
}

func init() {
	serveCmd.Flags().Int64Var(&nodeID, "node-id", 1, "snowflake node id, unique per replica (0-1023)")
}

func newApp(cfg config.Config) *fx.App {
	opts := append([]fx.Option{
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	}, appOptions(cfg)...)
	return fx.New(opts...)
}

func appOptions(cfg config.Config) []fx.Option {
	opts := []fx.Option{
		// Core Infrastructure
		config.Module(cfg),
		observability.Module,
		fx.Provide(RegisterSnowflake),
		clock.Module,

		// Matching engine
		reconcile.Module,
		receipt.Module,
		ratelimit.Module,
		sweeper.Module,

		server.Module,
	}

	if cfg.Journal.Enabled {
		opts = append(opts,
			db.Module,
			migration.Module,
			reconcile.JournalModule,
		)
	}
	return opts
}
