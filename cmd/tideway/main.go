package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/spf13/cobra"
	"github.com/tidewaylabs/tideway/internal/catalog"
	"github.com/tidewaylabs/tideway/internal/clock"
	"github.com/tidewaylabs/tideway/internal/config"
	"github.com/tidewaylabs/tideway/internal/db"
	"github.com/tidewaylabs/tideway/internal/dunning"
	"github.com/tidewaylabs/tideway/internal/invoice"
	"github.com/tidewaylabs/tideway/internal/migration"
	"github.com/tidewaylabs/tideway/internal/notification"
	"github.com/tidewaylabs/tideway/internal/observability"
	"github.com/tidewaylabs/tideway/internal/payment"
	"github.com/tidewaylabs/tideway/internal/quota"
	"github.com/tidewaylabs/tideway/internal/reconciler"
	"github.com/tidewaylabs/tideway/internal/redis"
	"github.com/tidewaylabs/tideway/internal/scheduler"
	"github.com/tidewaylabs/tideway/internal/server"
	"github.com/tidewaylabs/tideway/internal/subscription"
	"github.com/tidewaylabs/tideway/internal/tax"
	"github.com/tidewaylabs/tideway/internal/usage"
	"go.uber.org/fx"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "tideway",
		Short:   "Tideway billing engine CLI",
		Version: readVersionFromEnv(),
	}
	root.AddCommand(newMigrateCmd(), newServeCmd(), newSchedulerCmd(), newAllCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the billing API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			runApp(false)
			return nil
		},
	}
}

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the billing scheduler only",
		RunE: func(cmd *cobra.Command, args []string) error {
			runSchedulerOnly()
			return nil
		},
	}
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run migrations, then start API server and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runMigrate(); err != nil {
				return err
			}
			runApp(true)
			return nil
		},
	}
}

func runMigrate() error {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		migration.Module,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	_ = app.Stop(context.Background())
	return nil
}

// engineModules is everything between storage and the outer surfaces:
// the catalog, metering, invoicing, payment, dunning and lifecycle
// services plus the event reconciler.
func engineModules() fx.Option {
	return fx.Options(
		catalog.Module,
		usage.Module,
		tax.Module,
		quota.Module,
		notification.Module,
		invoice.Module,
		payment.Module,
		dunning.Module,
		subscription.Module,
		reconciler.Module,
	)
}

func runApp(withScheduler bool) {
	opts := []fx.Option{
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		redis.Module,
		engineModules(),
		server.Module,
	}
	if withScheduler {
		opts = append(opts, scheduler.Module)
	}
	fx.New(opts...).Run()
}

func runSchedulerOnly() {
	fx.New(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		redis.Module,
		engineModules(),
		scheduler.Module,
	).Run()
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
