package main

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/fleetops/failguard/internal/observability"
)

// jobRunner schedules the background maintenance loops: adaptive threshold
// recalibration and health probing of open breakers.
type jobRunner struct {
	cron   *cron.Cron
	logger observability.Logger
}

func newJobRunner(app *application, logger observability.Logger) *jobRunner {
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{logger}),
		cron.SkipIfStillRunning(cronLogger{logger}),
	))

	recalibrate := fmt.Sprintf("@every %s", app.config.RecalibrationInterval.Duration())
	if _, err := c.AddFunc(recalibrate, func() {
		app.engine.RunOnce(context.Background())
	}); err != nil {
		logger.Fatal("failed to schedule recalibration job", observability.Error(err))
	}

	probeEvery := fmt.Sprintf("@every %s", app.config.ProbeInterval.Duration())
	if _, err := c.AddFunc(probeEvery, func() {
		app.prober.Sweep(context.Background())
	}); err != nil {
		logger.Fatal("failed to schedule probe job", observability.Error(err))
	}

	return &jobRunner{cron: c, logger: logger}
}

// Start launches the scheduler.
func (j *jobRunner) Start() {
	j.logger.Info("starting background jobs")
	j.cron.Start()
}

// Stop halts the scheduler and waits for running jobs to finish.
func (j *jobRunner) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.logger.Info("background jobs stopped")
}

// cronLogger adapts the service logger to the cron logging interface.
type cronLogger struct {
	logger observability.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug(msg, observability.Any("details", keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error(msg,
		observability.Error(err),
		observability.Any("details", keysAndValues),
	)
}
