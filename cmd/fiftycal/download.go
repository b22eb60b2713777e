package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fiftycal/internal/config"
	"fiftycal/internal/download"
	"fiftycal/internal/model"
	"fiftycal/internal/session"
	"fiftycal/internal/store"
	"fiftycal/internal/syncer"
)

func newDownloadCmd(gf *globalFlags) *cobra.Command {
	var labels []string

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download the configured calendars and merge them into the local copies",
		Long: `Log in, download every configured calendar and write it to
<output_path>/<label>.ics. When a local copy already exists the two versions
are reconciled: events only on one side are kept, and for events changed on
both sides the one with the later LAST-MODIFIED wins.

A failing calendar does not stop the others; the command exits non-zero if
any calendar failed or if the session could not be closed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(gf)
			if err != nil {
				return err
			}
			calIDs, err := selectLabels(cfg.CalIDs, labels)
			if err != nil {
				return err
			}

			results, err := runSync(cmd.Context(), cfg, calIDs)
			printResults(cmd.OutOrStdout(), results)
			if err != nil {
				return err
			}
			if n := (model.RunStatus{Results: results}).FailedCount(); n > 0 {
				return fmt.Errorf("%d of %d calendars failed", n, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&labels, "label", "l", nil, "only sync these labels (repeatable)")
	return cmd
}

// newSession builds a Chromium-backed webmail session from cfg.
func newSession(ctx context.Context, cfg *config.Config) *session.Session {
	browser := session.NewChromeBrowser(ctx, session.ChromeOptions{
		LoginURL: cfg.CalendarURL,
		Headless: cfg.IsHeadless(),
	})
	return session.New(browser, cfg.Username, cfg.Password, session.Options{
		RetryInterval: cfg.LogoutRetryInterval,
		MaxWait:       cfg.LogoutMaxWait,
	})
}

// runSync performs one full sync of calIDs.
func runSync(ctx context.Context, cfg *config.Config, calIDs map[string]string) ([]model.Result, error) {
	s := syncer.New(
		download.New(cfg.CalendarURL, cfg.HTTPTimeout),
		store.New(cfg.OutputPath),
		cfg.Tie(),
	)
	return s.RunSession(ctx, newSession(ctx, cfg), calIDs)
}

func printResults(w io.Writer, results []model.Result) {
	if len(results) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tACTION\tEVENTS\tADDED\tCONFLICTS\tDETAIL")
	for _, r := range results {
		detail := r.Path
		if r.Failed() {
			detail = r.Kind + ": " + r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", r.Label, r.Action, r.Events, r.Added, r.Conflicts, detail)
	}
	tw.Flush()
}
