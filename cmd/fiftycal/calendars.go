package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fiftycal/internal/session"
)

func newCalendarsCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "calendars",
		Short: "List the calendars available on the webmail account",
		Long: `Log in and print the name and id of every calendar on the account, so the
ids can be copied into cal_ids. Calendars already configured show their label.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(gf)
			if err != nil {
				return err
			}

			sess := newSession(cmd.Context(), cfg)
			var cals map[string]string
			err = sess.With(cmd.Context(), func(ctx context.Context, _ session.Tokens) error {
				var err error
				cals, err = sess.Calendars(ctx)
				return err
			})
			if err != nil {
				return err
			}

			labelByID := make(map[string]string, len(cfg.CalIDs))
			for label, id := range cfg.CalIDs {
				labelByID[id] = label
			}
			names := make([]string, 0, len(cals))
			for name := range cals {
				names = append(names, name)
			}
			sort.Strings(names)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tID\tLABEL")
			for _, name := range names {
				id := cals[name]
				fmt.Fprintf(tw, "%s\t%s\t%s\n", name, id, labelByID[id])
			}
			return tw.Flush()
		},
	}
}
