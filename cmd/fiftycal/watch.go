package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	appLog "fiftycal/internal/log"
	"fiftycal/internal/session"
	"fiftycal/internal/store"
	"fiftycal/internal/syncer"
	"fiftycal/internal/web"
)

// cronLogger routes cron's own logging through the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}

func newWatchCmd(gf *globalFlags) *cobra.Command {
	var (
		schedule  string
		listen    string
		noInitial bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync on a cron schedule and serve the last run's status over HTTP",
		Long: `Run a sync on every tick of the configured cron schedule. A tick that
arrives while the previous sync is still running is skipped. When listen is
set, a read-only HTTP server exposes /health, /api/status, /api/events and
the stored calendars under /calendars/<label>.ics.

The command stops on SIGINT/SIGTERM, or with an error if a logout fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(gf)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("schedule") {
				cfg.Schedule = schedule
			}
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}

			ctx, cancel := context.WithCancelCause(cmd.Context())
			defer cancel(nil)

			tracker := syncer.NewTracker()
			job := func() {
				tracker.Begin()
				results, err := runSync(ctx, cfg, cfg.CalIDs)
				tracker.Finish(results, err)
				if err == nil {
					return
				}
				appLog.Error("scheduled sync failed", err, "kind", syncer.Kind(err))
				if errors.Is(err, session.ErrUnableToLogout) {
					cancel(err)
				}
			}

			c := cron.New(
				cron.WithLogger(cronLogger{}),
				cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
			)
			entryID, err := c.AddFunc(cfg.Schedule, job)
			if err != nil {
				return fmt.Errorf("schedule %q: %w", cfg.Schedule, err)
			}

			srvErr := make(chan error, 1)
			if cfg.Listen != "" {
				srv := web.NewServer(cfg, tracker, store.New(cfg.OutputPath))
				go func() { srvErr <- srv.Run(ctx) }()
			}

			appLog.Info("watch started", "schedule", cfg.Schedule, "listen", cfg.Listen, "calendars", len(cfg.CalIDs))
			c.Start()
			if !noInitial {
				c.Entry(entryID).WrappedJob.Run()
			}

			select {
			case <-ctx.Done():
			case err := <-srvErr:
				if err != nil {
					cancel(fmt.Errorf("status server: %w", err))
				}
			}

			appLog.Info("watch stopping")
			<-c.Stop().Done()

			if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
				return cause
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&schedule, "schedule", "", "cron schedule (overrides the config file)")
	cmd.Flags().StringVar(&listen, "listen", "", "status server address (overrides the config file; empty disables)")
	cmd.Flags().BoolVar(&noInitial, "no-initial-sync", false, "wait for the first scheduled tick instead of syncing at startup")
	return cmd
}
