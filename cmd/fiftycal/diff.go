package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fiftycal/internal/ics"
	"fiftycal/internal/reconcile"
)

func readCalendar(path string) (*ics.Calendar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cal, err := ics.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cal, nil
}

type diffRecord struct {
	Kind         string `json:"kind"`
	UID          string `json:"uid"`
	RecurrenceID string `json:"recurrence_id,omitempty"`
	SummaryA     string `json:"summary_a,omitempty"`
	SummaryB     string `json:"summary_b,omitempty"`
	ModifiedA    string `json:"last_modified_a,omitempty"`
	ModifiedB    string `json:"last_modified_b,omitempty"`
}

func toRecord(d reconcile.Difference) diffRecord {
	id := d.Identity()
	rec := diffRecord{Kind: d.Kind().String(), UID: id.UID, RecurrenceID: id.RecurrenceID}
	if d.A != nil {
		rec.SummaryA = d.A.Summary()
		if p, ok := d.A.Get(ics.PropLastModified); ok {
			rec.ModifiedA = p.Value
		}
	}
	if d.B != nil {
		rec.SummaryB = d.B.Summary()
		if p, ok := d.B.Get(ics.PropLastModified); ok {
			rec.ModifiedB = p.Value
		}
	}
	return rec
}

func newDiffCmd() *cobra.Command {
	var (
		raw    bool
		asJSON bool
		noisy  []string
	)

	cmd := &cobra.Command{
		Use:   "diff A.ics B.ics",
		Short: "Show the event-level differences between two calendar files",
		Long: `Compare two calendar files event by event. Events are matched on UID
(qualified by RECURRENCE-ID for overrides). SEQUENCE is ignored unless --raw
is given.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := readCalendar(args[0])
			if err != nil {
				return err
			}
			b, err := readCalendar(args[1])
			if err != nil {
				return err
			}

			if !raw {
				n := reconcile.NewNormalizer(noisy...)
				a, b = n.Normalize(a), n.Normalize(b)
			}
			diffs, err := reconcile.Diff(a, b)
			if err != nil {
				return err
			}
			return printDiffs(cmd.OutOrStdout(), diffs, asJSON)
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "compare without stripping noisy properties")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print differences as JSON")
	cmd.Flags().StringSliceVar(&noisy, "ignore", nil, "properties to ignore (default SEQUENCE)")
	return cmd
}

func printDiffs(w io.Writer, diffs []reconcile.Difference, asJSON bool) error {
	records := make([]diffRecord, 0, len(diffs))
	for _, d := range diffs {
		records = append(records, toRecord(d))
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Counts      reconcile.Counts `json:"counts"`
			Differences []diffRecord     `json:"differences"`
		}{reconcile.Tally(diffs), records})
	}

	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "no differences")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tUID\tSUMMARY A\tSUMMARY B")
	for _, r := range records {
		uid := r.UID
		if r.RecurrenceID != "" {
			uid += "@" + r.RecurrenceID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Kind, uid, r.SummaryA, r.SummaryB)
	}
	return tw.Flush()
}

func newMergeCmd() *cobra.Command {
	var (
		output    string
		tiePolicy string
	)

	cmd := &cobra.Command{
		Use:   "merge A.ics B.ics",
		Short: "Reconcile two calendar files and print the merged calendar",
		Long: `Merge two calendar files with the last-modified-wins rule. B is the
baseline: its calendar properties, time zones and event order are kept,
changed events are replaced by the newer version and events found only in A
are appended.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tie, err := reconcile.ParseTiePolicy(tiePolicy)
			if err != nil {
				return err
			}
			a, err := readCalendar(args[0])
			if err != nil {
				return err
			}
			b, err := readCalendar(args[1])
			if err != nil {
				return err
			}

			merged, _, err := reconcile.Reconcile(a, b, reconcile.WithTiePolicy(tie))
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(merged.Serialize())
				return err
			}
			return writeFileAtomic(output, merged.Serialize())
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the merged calendar to this file instead of stdout")
	cmd.Flags().StringVar(&tiePolicy, "tie-policy", "prefer-b", "when neither version has LAST-MODIFIED: prefer-b or reject")
	return cmd
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".fiftycal-merge-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
