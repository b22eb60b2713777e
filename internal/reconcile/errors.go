package reconcile

import (
	"fmt"

	"fiftycal/internal/ics"
)

// MissingIdentityError reports an event without a UID. Diffing stops at the
// first such event and returns no partial result.
type MissingIdentityError struct {
	Calendar string // "A" or "B"
	Index    int    // position in the calendar's event list
	Summary  string
}

func (e *MissingIdentityError) Error() string {
	if e.Summary == "" {
		return fmt.Sprintf("reconcile: event #%d in calendar %s has no UID", e.Index, e.Calendar)
	}
	return fmt.Sprintf("reconcile: event #%d (%q) in calendar %s has no UID", e.Index, e.Summary, e.Calendar)
}

// AmbiguousConflictError is returned under RejectAmbiguous when neither
// version of a conflicting event carries LAST-MODIFIED.
type AmbiguousConflictError struct {
	Identity ics.Identity
}

func (e *AmbiguousConflictError) Error() string {
	return fmt.Sprintf("reconcile: conflict on %s: neither version has LAST-MODIFIED", e.Identity)
}
