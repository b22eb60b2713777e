package ics

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"fiftycal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// Label is copied into every occurrence.
	Label string

	// DisplayLocation is the timezone to which all occurrences will be converted.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the inclusive time window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the list of expanded occurrences and optionally
// information about truncation.
type ExpandResult struct {
	Occurrences []model.Occurrence
	// TruncatedEvents records UIDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
	// Skipped records UIDs whose DTSTART or RRULE could not be decoded.
	Skipped []string
}

// Expand turns the events of cal into concrete occurrences inside the
// configured window, sorted by start time. It handles single events, RRULE
// recurrence, EXDATE and RECURRENCE-ID overrides.
func Expand(cal *Calendar, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	overrides := make(map[string][]*Event)
	var masters []*Event
	for _, ev := range cal.Events {
		if ev.Has(PropRecurrenceID) {
			overrides[ev.UID()] = append(overrides[ev.UID()], ev)
			continue
		}
		masters = append(masters, ev)
	}

	for _, ev := range masters {
		occ, hitCap, err := expandEvent(ev, overrides[ev.UID()], cfg)
		if err != nil {
			result.Skipped = append(result.Skipped, ev.UID())
			continue
		}
		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.UID())
		}
		result.Occurrences = append(result.Occurrences, occ...)
	}

	sort.SliceStable(result.Occurrences, func(i, j int) bool {
		return result.Occurrences[i].Start.Before(result.Occurrences[j].Start)
	})
	return result, nil
}

func expandEvent(ev *Event, overrides []*Event, cfg ExpandConfig) ([]model.Occurrence, bool, error) {
	start, ok, err := ev.Start()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fmt.Errorf("expand: %s has no DTSTART", ev.UID())
	}
	end, ok, err := ev.End()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		end = start
		if ev.AllDay() {
			end = start.AddDate(0, 0, 1)
		}
	}

	rule, hasRule := ev.Get(PropRRule)
	if !hasRule {
		if !overlaps(start, end, cfg.RangeStart, cfg.RangeEnd) {
			return nil, false, nil
		}
		return []model.Occurrence{makeOccurrence(ev, start, end, cfg)}, false, nil
	}

	r, err := rrule.StrToRRule(rule.Value)
	if err != nil {
		return nil, false, err
	}
	r.DTStart(start)

	var set rrule.Set
	set.RRule(r)
	for _, p := range ev.All(PropExDate) {
		for _, ex := range splitDates(p) {
			set.ExDate(ex.In(start.Location()))
		}
	}

	times := set.Between(cfg.RangeStart.In(start.Location()), cfg.RangeEnd.In(start.Location()), true)
	hitCap := false
	if len(times) > cfg.MaxOccurrencesPerEvent {
		times = times[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	dur := end.Sub(start)
	out := make([]model.Occurrence, 0, len(times))
	for _, occStart := range times {
		src, s, e := ev, occStart, occStart.Add(dur)
		if o, ok := findOverride(overrides, occStart); ok {
			oStart, _, _ := o.Start()
			oEnd, hasEnd, _ := o.End()
			if !hasEnd {
				oEnd = oStart.Add(dur)
			}
			src, s, e = o, oStart, oEnd
		}
		out = append(out, makeOccurrence(src, s, e, cfg))
	}
	return out, hitCap, nil
}

// findOverride finds an override whose RECURRENCE-ID matches the instance
// start exactly.
func findOverride(overrides []*Event, instance time.Time) (*Event, bool) {
	for _, o := range overrides {
		rid, ok, err := o.RecurrenceID()
		if !ok || err != nil {
			continue
		}
		if rid.Equal(instance) {
			return o, true
		}
	}
	return nil, false
}

func splitDates(p Property) []time.Time {
	var out []time.Time
	for _, part := range strings.Split(p.Value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if t, err := parseICSTime(part, p.Param("TZID")); err == nil {
			out = append(out, t)
		}
	}
	return out
}

func makeOccurrence(ev *Event, start, end time.Time, cfg ExpandConfig) model.Occurrence {
	loc, _ := ev.Get(PropLocation)
	desc, _ := ev.Get(PropDescription)
	startLocal := start.In(cfg.DisplayLocation)
	return model.Occurrence{
		Label:       cfg.Label,
		UID:         ev.UID(),
		InstanceKey: startLocal.Format(time.RFC3339Nano),
		Summary:     ev.Summary(),
		Description: desc.Value,
		Location:    loc.Value,
		AllDay:      ev.AllDay(),
		Start:       startLocal,
		End:         end.In(cfg.DisplayLocation),
	}
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
