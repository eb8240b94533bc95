// Command execute drains the execution backlog: pledges still open on
// triggers that already resolved to a proceed outcome. It is the recovery
// path after a crash mid-resolution, safe to run repeatedly because every
// pledge executes at most once.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/pledgefund/backend/internal/allocation"
	"github.com/pledgefund/backend/internal/executor"
	"github.com/pledgefund/backend/internal/gateway"
	"github.com/pledgefund/backend/internal/notify"
	"github.com/pledgefund/backend/internal/storage/sqlite"
	"github.com/pledgefund/backend/pkg/logging"
)

type opts struct {
	DBPath         string        `long:"db" default:"data/pledgefund.db" env:"PLEDGEFUND_DB_PATH" description:"SQLite database file"`
	GatewayURL     string        `long:"gateway-url" env:"PLEDGEFUND_GATEWAY_URL" description:"payment gateway base URL"`
	GatewayAPIKey  string        `long:"gateway-api-key" env:"PLEDGEFUND_GATEWAY_API_KEY"`
	GatewayTimeout time.Duration `long:"gateway-timeout" default:"10s" env:"PLEDGEFUND_GATEWAY_TIMEOUT"`
	Parallelism    int           `long:"parallelism" default:"8" env:"PLEDGEFUND_PARALLELISM" description:"concurrent pledge executions"`
	MaxRetries     uint64        `long:"max-retries" default:"3" env:"PLEDGEFUND_MAX_RETRIES"`
	FeeFixed       int64         `long:"fee-fixed" default:"20" env:"PLEDGEFUND_FEE_FIXED"`
	FeeBps         int64         `long:"fee-bps" default:"900" env:"PLEDGEFUND_FEE_BPS"`
	DryRun         bool          `long:"dry-run" description:"list the backlog without charging"`
	LogLevel       string        `long:"log-level" default:"info" env:"PLEDGEFUND_LOG_LEVEL"`
}

func main() {
	var o opts
	if _, err := flags.Parse(&o); err != nil {
		os.Exit(1)
	}
	logging.Setup(o.LogLevel)

	store, err := sqlite.New(o.DBPath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()

	if o.DryRun {
		pledges, err := store.OpenPledgesOnExecutedTriggers(ctx)
		if err != nil {
			slog.Error("Failed to list backlog", "error", err)
			os.Exit(1)
		}
		for _, p := range pledges {
			slog.Info("backlog pledge", "pledge_id", p.ID, "trigger_id", p.TriggerID, "amount", p.Amount)
		}
		slog.Info("dry run complete", "pledges", len(pledges))
		return
	}

	if o.GatewayURL == "" {
		slog.Error("A gateway URL is required to execute pledges")
		os.Exit(1)
	}
	charger := gateway.NewHTTPCharger(o.GatewayURL, o.GatewayAPIKey, o.GatewayTimeout)

	publisher := notify.NewStorePublisher(store)
	coordinator := executor.NewCoordinator(store, charger, publisher,
		executor.WithFees(allocation.FeeSchedule{Fixed: o.FeeFixed, Bps: o.FeeBps}),
		executor.WithRetries(o.MaxRetries, 0),
	)
	resolver := executor.NewResolver(store, coordinator, publisher, o.Parallelism)

	summary, err := resolver.ExecuteBacklog(ctx)
	if err != nil {
		slog.Error("Backlog execution failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Backlog drained",
		"pledges", summary.Total,
		"succeeded", summary.Succeeded,
		"with_problem", summary.WithProblem,
		"failed", summary.Failed,
	)
	if summary.Failed > 0 {
		os.Exit(1)
	}
}
