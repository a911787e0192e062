// Command dailybugs-run runs the daily report once, for one user or for
// every user with a stored token.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"dailybugs-backend/internal/app"
	"dailybugs-backend/internal/config"
	"dailybugs-backend/internal/logger"
	"dailybugs-backend/internal/pipeline"
	"dailybugs-backend/internal/scheduler"
)

func main() {
	var (
		userID  string
		testRun bool
		runID   string
		all     bool
	)
	flag.StringVar(&userID, "user", "", "GitHub user id to run for")
	flag.BoolVar(&testRun, "test", false, "send a summary of what would be reviewed instead of calling the model")
	flag.StringVar(&runID, "run-id", "", "resume or name a run (default: today's daily run id)")
	flag.BoolVar(&all, "all", false, "run every user with a stored token, like the daily schedule")
	flag.Parse()

	if err := run(userID, testRun, runID, all); err != nil {
		fmt.Fprintf(os.Stderr, "dailybugs-run: %v\n", err)
		os.Exit(1)
	}
}

func run(userID string, testRun bool, runID string, all bool) error {
	if (userID == "") == !all {
		return fmt.Errorf("exactly one of --user or --all is required")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	now := time.Now().UTC()
	if all {
		sched := scheduler.New(svc.Store, svc.Runner, scheduler.Config{
			Attempts:   cfg.Schedule.Attempts,
			RetryDelay: cfg.Schedule.RetryDelay,
			Retention:  cfg.Schedule.Retention,
		}, log)
		if failed := sched.RunAll(ctx, now); failed > 0 {
			return fmt.Errorf("%d users failed", failed)
		}
		return nil
	}

	if runID == "" {
		runID = scheduler.RunID(userID, now)
		if testRun {
			runID = "test-" + runID
		}
	}
	res, err := svc.Runner.Run(ctx, pipeline.Params{RunID: runID, UserID: userID, TestRun: testRun, Now: now})
	if err != nil {
		return err
	}
	log.Infof("run %s finished: %d diffs in %d batches, %d findings, delivered=%t",
		runID, res.Stats.Diffs, res.Stats.Batches, res.Findings, res.Delivered)
	return nil
}
