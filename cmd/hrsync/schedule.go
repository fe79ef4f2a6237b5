package main

import (
	"context"

	"github.com/ternarybob/hrsync/internal/services/extract"
	"github.com/ternarybob/hrsync/internal/services/scheduler"
)

func runSchedule(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("schedule")
	now := fs.Bool("now", false, "Run the task once immediately before waiting for the schedule")
	if err := fs.Parse(args); err != nil {
		return flagError(err)
	}

	task, schedule := a.config.Schedule.Task, a.config.Schedule.Cron
	if schedule == "" {
		return usagef("schedule.cron is not set")
	}

	var handler scheduler.Handler
	switch task {
	case "payslips":
		handler = func(ctx context.Context) error {
			_, err := syncPayslips(ctx, a, extract.PayslipFull, false)
			return err
		}
	case "employees":
		handler = func(ctx context.Context) error {
			_, err := exportEmployees(ctx, a, true, a.config.Employees.OutputDir)
			return err
		}
	default:
		return usagef("unknown schedule.task %q", task)
	}

	service := scheduler.NewService(a.logger)
	if err := service.RegisterJob(task, schedule, "scheduled "+task+" sync", handler); err != nil {
		return err
	}
	if err := service.Start(ctx); err != nil {
		return err
	}
	defer service.Stop()

	if *now {
		if err := service.TriggerJob(task); err != nil {
			return err
		}
	}

	if status, err := service.GetJobStatus(task); err == nil && status.NextRun != nil {
		a.logger.Info().
			Str("task", task).
			Str("schedule", schedule).
			Str("next_run", status.NextRun.Format("2006-01-02 15:04:05")).
			Msg("Waiting for next scheduled run. Press Ctrl+C to stop")
	}

	<-ctx.Done()
	a.logger.Info().Msg("Shutdown signal received")
	return nil
}
