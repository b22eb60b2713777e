package reconcile

import "fiftycal/internal/ics"

// Kind is the shape of a Difference.
type Kind int

const (
	OnlyInA Kind = iota
	OnlyInB
	Conflict
)

func (k Kind) String() string {
	switch k {
	case OnlyInA:
		return "only-in-a"
	case OnlyInB:
		return "only-in-b"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Difference pairs the two versions of one identity. At most one side is nil.
type Difference struct {
	A *ics.Event
	B *ics.Event
}

// Kind reports which shape the difference has.
func (d Difference) Kind() Kind {
	switch {
	case d.B == nil:
		return OnlyInA
	case d.A == nil:
		return OnlyInB
	default:
		return Conflict
	}
}

// Identity returns the identity shared by both sides.
func (d Difference) Identity() ics.Identity {
	if d.A != nil {
		return d.A.Identity()
	}
	return d.B.Identity()
}

// Counts tallies a difference list by kind.
type Counts struct {
	OnlyInA   int `json:"only_in_a"`
	OnlyInB   int `json:"only_in_b"`
	Conflicts int `json:"conflicts"`
}

// Tally counts diffs by kind.
func Tally(diffs []Difference) Counts {
	var c Counts
	for _, d := range diffs {
		switch d.Kind() {
		case OnlyInA:
			c.OnlyInA++
		case OnlyInB:
			c.OnlyInB++
		case Conflict:
			c.Conflicts++
		}
	}
	return c
}

// Diff compares two already-normalized calendars event by event.
//
// Records for identities found in A (A-only and conflicting) come first, in
// A's event order, followed by B-only records in B's event order. Identical
// calendars yield an empty result. An event without a UID aborts the diff with
// a *MissingIdentityError.
func Diff(a, b *ics.Calendar) ([]Difference, error) {
	idxA, orderA, err := index(a, "A")
	if err != nil {
		return nil, err
	}
	idxB, orderB, err := index(b, "B")
	if err != nil {
		return nil, err
	}

	var out []Difference
	for _, id := range orderA {
		evA := idxA[id]
		evB, ok := idxB[id]
		switch {
		case !ok:
			out = append(out, Difference{A: evA})
		case !evA.Equal(evB):
			out = append(out, Difference{A: evA, B: evB})
		}
	}
	for _, id := range orderB {
		if _, ok := idxA[id]; !ok {
			out = append(out, Difference{B: idxB[id]})
		}
	}
	return out, nil
}

// Compare normalizes both calendars with the default normalizer and diffs
// the results.
func Compare(a, b *ics.Calendar) ([]Difference, error) {
	return Diff(Normalize(a), Normalize(b))
}

// index maps identity to the first event carrying it, and records the order
// in which identities are first seen.
func index(cal *ics.Calendar, name string) (map[ics.Identity]*ics.Event, []ics.Identity, error) {
	idx := make(map[ics.Identity]*ics.Event, len(cal.Events))
	order := make([]ics.Identity, 0, len(cal.Events))
	for i, ev := range cal.Events {
		id := ev.Identity()
		if id.UID == "" {
			return nil, nil, &MissingIdentityError{Calendar: name, Index: i, Summary: ev.Summary()}
		}
		if _, dup := idx[id]; dup {
			continue
		}
		idx[id] = ev
		order = append(order, id)
	}
	return idx, order, nil
}
