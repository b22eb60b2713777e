package ics

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	ical "github.com/arran4/golang-ical"
)

// ParseError reports calendar text that could not be parsed.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "ics: parse: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValueError reports a property value that does not decode as its kind.
type ValueError struct {
	Property string
	Value    string
	Err      error
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("ics: property %s: invalid value %q: %v", e.Property, e.Value, e.Err)
}

func (e *ValueError) Unwrap() error { return e.Err }

// Parse parses a VCALENDAR document.
//
//   - Property and parameter names are canonicalized to uppercase.
//   - VEVENTs become Events in document order; every other top-level
//     component is kept as a generic Component.
//   - Values are not validated here; typed accessors report bad values.
func Parse(body []byte) (*Calendar, error) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(body, []byte("\ufeff")))
	if len(trimmed) == 0 {
		return nil, &ParseError{Err: errors.New("empty calendar body")}
	}
	const begin = "BEGIN:VCALENDAR"
	if len(trimmed) < len(begin) || !bytes.EqualFold(trimmed[:len(begin)], []byte(begin)) {
		return nil, &ParseError{Err: errors.New("missing BEGIN:VCALENDAR")}
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(trimmed))
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	return fromICal(cal), nil
}

// ParseReader reads r fully and parses it.
func ParseReader(r io.Reader) (*Calendar, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(body)
}

func fromICal(cal *ical.Calendar) *Calendar {
	out := &Calendar{
		Properties: make([]Property, 0, len(cal.CalendarProperties)),
		Events:     make([]*Event, 0),
	}
	for _, p := range cal.CalendarProperties {
		out.Properties = append(out.Properties, fromBaseProperty(p.BaseProperty))
	}
	for _, c := range cal.Components {
		comp := fromComponent(c)
		if comp.Name == componentVEvent {
			out.Events = append(out.Events, &Event{Properties: comp.Properties, Children: comp.Children})
			continue
		}
		out.Components = append(out.Components, comp)
	}
	return out
}

func fromComponent(c ical.Component) *Component {
	out := &Component{Name: componentName(c)}
	for _, p := range c.UnknownPropertiesIANAProperties() {
		out.Properties = append(out.Properties, fromBaseProperty(p.BaseProperty))
	}
	for _, child := range c.SubComponents() {
		out.Children = append(out.Children, fromComponent(child))
	}
	return out
}

func fromBaseProperty(bp ical.BaseProperty) Property {
	p := Property{Name: canonicalName(bp.IANAToken), Value: bp.Value}
	if len(bp.ICalParameters) > 0 {
		p.Params = make(map[string][]string, len(bp.ICalParameters))
		for k, vs := range bp.ICalParameters {
			p.Params[canonicalName(k)] = append([]string(nil), vs...)
		}
	}
	return p
}

func componentName(c ical.Component) string {
	switch v := c.(type) {
	case *ical.VEvent:
		return string(ical.ComponentVEvent)
	case *ical.VTodo:
		return string(ical.ComponentVTodo)
	case *ical.VJournal:
		return string(ical.ComponentVJournal)
	case *ical.VBusy:
		return string(ical.ComponentVFreeBusy)
	case *ical.VTimezone:
		return string(ical.ComponentVTimezone)
	case *ical.VAlarm:
		return string(ical.ComponentVAlarm)
	case *ical.Standard:
		return string(ical.ComponentStandard)
	case *ical.Daylight:
		return string(ical.ComponentDaylight)
	case *ical.GeneralComponent:
		return strings.ToUpper(v.Token)
	default:
		return fmt.Sprintf("X-UNKNOWN-%T", c)
	}
}
