package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/medspa-scheduling/cmd/mainconfig"
	"github.com/wolfman30/medspa-scheduling/internal/app/bootstrap"
	appconfig "github.com/wolfman30/medspa-scheduling/internal/config"
	"github.com/wolfman30/medspa-scheduling/internal/scheduler"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

// cleanupDetailType marks the daily EventBridge rule that prunes logs and the
// reminder ledger instead of running a tick.
const cleanupDetailType = "medspa.scheduler.cleanup"

type runner interface {
	Tick(ctx context.Context, ref time.Time) (*scheduler.TickReport, error)
	Cleanup(ctx context.Context, now time.Time) (*scheduler.CleanupReport, error)
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	pool, sqlDB, err := bootstrap.BuildDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	if pool == nil {
		logger.Error("DATABASE_URL is required for the scheduler lambda")
		os.Exit(1)
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	rt, err := bootstrap.Build(cfg, logger, bootstrap.Stores{
		Pool:  pool,
		SQL:   sqlDB,
		Redis: bootstrap.BuildRedisClient(ctx, cfg, logger, true),
	}, bootstrap.NewAWSClients(awsCfg, cfg))
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}

	lambda.Start(func(ctx context.Context, evt events.CloudWatchEvent) (any, error) {
		return handle(ctx, rt.Scheduler, logger, evt)
	})
}

func handle(ctx context.Context, s runner, logger *logging.Logger, evt events.CloudWatchEvent) (any, error) {
	at := evt.Time
	if at.IsZero() {
		at = time.Now()
	}

	if evt.DetailType == cleanupDetailType {
		report, err := s.Cleanup(ctx, at)
		if err != nil {
			return nil, fmt.Errorf("scheduler cleanup: %w", err)
		}
		logger.Info("scheduler cleanup complete", "event_id", evt.ID)
		return report, nil
	}

	report, err := s.Tick(ctx, at)
	if err != nil {
		return nil, fmt.Errorf("scheduler tick: %w", err)
	}
	logger.Info("scheduler tick complete", "event_id", evt.ID, "ref", report.Ref)
	return report, nil
}
