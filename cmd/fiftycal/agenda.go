package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fiftycal/internal/ics"
	appLog "fiftycal/internal/log"
	"fiftycal/internal/model"
	"fiftycal/internal/store"
)

func newAgendaCmd(gf *globalFlags) *cobra.Command {
	var (
		days     int
		backfill int
		tz       string
	)

	cmd := &cobra.Command{
		Use:   "agenda",
		Short: "Print upcoming events from the local calendar copies",
		Long: `Expand the stored calendars (RRULE, EXDATE and moved instances) and print
every occurrence in the requested window. No network access is needed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(gf)
			if err != nil {
				return err
			}
			loc := time.Local
			if tz != "" {
				if loc, err = time.LoadLocation(tz); err != nil {
					return fmt.Errorf("timezone %q: %w", tz, err)
				}
			}

			now := time.Now().In(loc)
			start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -backfill)
			end := start.AddDate(0, 0, days+backfill)

			st := store.New(cfg.OutputPath)
			labels, err := st.Labels()
			if err != nil {
				return err
			}

			var all []model.Occurrence
			for _, label := range labels {
				cal, ok, err := st.Load(label)
				if err != nil {
					appLog.Error("agenda: load failed", err, "label", label)
					continue
				}
				if !ok {
					continue
				}
				res, err := ics.Expand(cal, ics.ExpandConfig{
					Label:           label,
					DisplayLocation: loc,
					RangeStart:      start,
					RangeEnd:        end,
				})
				if err != nil {
					return err
				}
				for _, uid := range res.Skipped {
					appLog.Warn("agenda: event skipped", "label", label, "uid", uid)
				}
				all = append(all, res.Occurrences...)
			}
			model.SortOccurrences(all)
			printAgenda(cmd, all)
			return nil
		},
	}

	cmd.Flags().IntVarP(&days, "days", "d", 7, "number of days to show")
	cmd.Flags().IntVar(&backfill, "backfill", 0, "number of past days to include")
	cmd.Flags().StringVar(&tz, "tz", "", "display timezone (default local)")
	return cmd
}

func printAgenda(cmd *cobra.Command, occ []model.Occurrence) {
	w := cmd.OutOrStdout()
	if len(occ) == 0 {
		fmt.Fprintln(w, "no events")
		return
	}
	var day string
	for _, o := range occ {
		if d := o.Start.Format("Mon 2006-01-02"); d != day {
			day = d
			fmt.Fprintln(w, day)
		}
		when := "all day    "
		if !o.AllDay {
			when = o.Start.Format("15:04") + "-" + o.End.Format("15:04")
		}
		fmt.Fprintf(w, "  %s  %s  [%s]\n", when, o.Summary, o.Label)
	}
}
