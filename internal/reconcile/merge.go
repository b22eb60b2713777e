package reconcile

import (
	"fmt"
	"strings"

	"fiftycal/internal/ics"
)

// TiePolicy decides a conflict when neither version has LAST-MODIFIED.
type TiePolicy int

const (
	// PreferB keeps calendar B's version.
	PreferB TiePolicy = iota
	// RejectAmbiguous fails the merge with *AmbiguousConflictError.
	RejectAmbiguous
)

func (p TiePolicy) String() string {
	if p == RejectAmbiguous {
		return "reject"
	}
	return "prefer-b"
}

// ParseTiePolicy accepts "prefer-b" (or "") and "reject".
func ParseTiePolicy(s string) (TiePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "prefer-b", "prefer_b", "b":
		return PreferB, nil
	case "reject", "reject-ambiguous", "reject_ambiguous":
		return RejectAmbiguous, nil
	default:
		return PreferB, fmt.Errorf("reconcile: unknown tie policy %q", s)
	}
}

type options struct {
	tie TiePolicy
}

// Option configures Merge.
type Option func(*options)

// WithTiePolicy sets the policy for conflicts where neither side carries
// LAST-MODIFIED.
func WithTiePolicy(p TiePolicy) Option {
	return func(o *options) { o.tie = p }
}

// Merge builds a new calendar from originalB with every difference resolved.
//
// One-sided differences are additions and always included. Conflicts go to
// the version with the strictly later LAST-MODIFIED; equal timestamps go to B
// and a missing timestamp loses to a present one. Winners are re-read by
// identity from the original calendars so that properties stripped by the
// normalizer survive.
//
// diffs must have been computed from normalized copies of originalA and
// originalB. Stale or foreign differences are not detected; an identity that
// cannot be found in its original falls back to the event in the record.
//
// The result shares no state with either input and never holds two events
// with the same identity.
func Merge(originalA, originalB *ics.Calendar, diffs []Difference, opts ...Option) (*ics.Calendar, error) {
	o := options{tie: PreferB}
	for _, opt := range opts {
		opt(&o)
	}

	srcA, srcB := byIdentity(originalA), byIdentity(originalB)
	winners := make(map[ics.Identity]*ics.Event, len(diffs))
	var order []ics.Identity
	for _, d := range diffs {
		takeA := false
		switch d.Kind() {
		case OnlyInA:
			takeA = true
		case OnlyInB:
		case Conflict:
			var err error
			takeA, err = preferA(d, o.tie)
			if err != nil {
				return nil, err
			}
		}

		id := d.Identity()
		src, fallback := srcB, d.B
		if takeA {
			src, fallback = srcA, d.A
		}
		win, ok := src[id]
		if !ok {
			win = fallback
		}
		if _, seen := winners[id]; !seen {
			order = append(order, id)
		}
		winners[id] = win
	}

	out := (&ics.Calendar{Properties: originalB.Properties, Components: originalB.Components}).Duplicate()
	placed := make(map[ics.Identity]bool, len(originalB.Events)+len(order))
	for _, ev := range originalB.Events {
		id := ev.Identity()
		if placed[id] {
			continue
		}
		placed[id] = true
		if win, ok := winners[id]; ok {
			ev = win
		}
		out.Events = append(out.Events, ev.Clone())
	}
	for _, id := range order {
		if placed[id] {
			continue
		}
		placed[id] = true
		out.Events = append(out.Events, winners[id].Clone())
	}
	return out, nil
}

// Reconcile normalizes and diffs a and b, then merges the originals.
func Reconcile(a, b *ics.Calendar, opts ...Option) (*ics.Calendar, []Difference, error) {
	diffs, err := Compare(a, b)
	if err != nil {
		return nil, nil, err
	}
	merged, err := Merge(a, b, diffs, opts...)
	if err != nil {
		return nil, nil, err
	}
	return merged, diffs, nil
}

// byIdentity maps each identity to its first event in cal.
func byIdentity(cal *ics.Calendar) map[ics.Identity]*ics.Event {
	m := make(map[ics.Identity]*ics.Event, len(cal.Events))
	for _, ev := range cal.Events {
		id := ev.Identity()
		if _, dup := m[id]; !dup {
			m[id] = ev
		}
	}
	return m
}

func preferA(d Difference, tie TiePolicy) (bool, error) {
	ta, okA, err := d.A.LastModified()
	if err != nil {
		return false, fmt.Errorf("reconcile: calendar A, %s: %w", d.Identity(), err)
	}
	tb, okB, err := d.B.LastModified()
	if err != nil {
		return false, fmt.Errorf("reconcile: calendar B, %s: %w", d.Identity(), err)
	}

	switch {
	case okA && okB:
		return ta.After(tb), nil
	case okA:
		return true, nil
	case okB:
		return false, nil
	case tie == RejectAmbiguous:
		return false, &AmbiguousConflictError{Identity: d.Identity()}
	default:
		return false, nil
	}
}
