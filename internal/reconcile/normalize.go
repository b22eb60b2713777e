package reconcile

import "fiftycal/internal/ics"

// DefaultNoisy lists the properties stripped before comparison. SEQUENCE is
// bumped by the server on every save, even when nothing else changed.
var DefaultNoisy = []string{ics.PropSequence}

// Normalizer removes comparison-noisy properties from every event.
type Normalizer struct {
	noisy []string
}

// NewNormalizer returns a normalizer stripping the given property names, or
// DefaultNoisy when none are given.
func NewNormalizer(noisy ...string) *Normalizer {
	if len(noisy) == 0 {
		noisy = DefaultNoisy
	}
	return &Normalizer{noisy: append([]string(nil), noisy...)}
}

// Normalize returns a new calendar with the noisy properties removed from each
// event. cal is not modified.
func (n *Normalizer) Normalize(cal *ics.Calendar) *ics.Calendar {
	out := (&ics.Calendar{Properties: cal.Properties, Components: cal.Components}).Duplicate()
	for _, ev := range cal.Events {
		out.Events = append(out.Events, ev.Without(n.noisy...))
	}
	return out
}

var defaultNormalizer = NewNormalizer()

// Normalize strips DefaultNoisy from every event of cal.
func Normalize(cal *ics.Calendar) *ics.Calendar {
	return defaultNormalizer.Normalize(cal)
}
