package model

import (
	"sort"
	"time"
)

// Occurrence represents a single concrete instance of an event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	Label string `json:"label"` // configured calendar label
	UID   string `json:"uid"`   // iCalendar UID

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, derived from the local start time.
	InstanceKey string `json:"instance_key"`

	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	AllDay bool `json:"all_day"`

	// Start / End are in the display timezone.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Action describes what a sync did with a downloaded calendar.
type Action string

const (
	// ActionCreated means no local copy existed; the download was written as is.
	ActionCreated Action = "created"
	// ActionMerged means the download was reconciled with the local copy.
	ActionMerged Action = "merged"
	// ActionUnchanged means both copies already agreed.
	ActionUnchanged Action = "unchanged"
	// ActionFailed means the label could not be synced; see Result.Err.
	ActionFailed Action = "failed"
)

// Result is the outcome of syncing one configured calendar label.
type Result struct {
	Label      string    `json:"label"`
	CalendarID string    `json:"calendar_id"`
	Action     Action    `json:"action"`
	Events     int       `json:"events"`
	Added      int       `json:"added"`
	Conflicts  int       `json:"conflicts"`
	Path       string    `json:"path,omitempty"`
	Error      string    `json:"error,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	FinishedAt time.Time `json:"finished_at"`

	Err error `json:"-"`
}

// Failed reports whether the label did not complete.
func (r Result) Failed() bool {
	return r.Err != nil || r.Action == ActionFailed
}

// RunStatus describes the latest sync run, as served by the status endpoint.
type RunStatus struct {
	Running    bool      `json:"running"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	// Error is a run-level failure (login, logout), not a per-label one.
	Error   string   `json:"error,omitempty"`
	Results []Result `json:"results"`
}

// FailedCount returns how many results failed.
func (s RunStatus) FailedCount() int {
	n := 0
	for _, r := range s.Results {
		if r.Failed() {
			n++
		}
	}
	return n
}

// SortOccurrences orders occurrences by start time, then label and UID.
func SortOccurrences(occ []Occurrence) {
	sort.SliceStable(occ, func(i, j int) bool {
		a, b := occ[i], occ[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		return a.UID < b.UID
	})
}
