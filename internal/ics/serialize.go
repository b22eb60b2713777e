package ics

import (
	ical "github.com/arran4/golang-ical"
)

// Serialize renders the calendar as iCalendar text with CRLF line endings
// and folded lines. Non-event components are written before events, each
// group in its stored order.
//
// Parameter values are backslash-escaped by golang-ical, never quoted.
func (c *Calendar) Serialize() []byte {
	return []byte(c.toICal().Serialize(ical.WithNewLineWindows))
}

func (c *Calendar) String() string {
	return string(c.Serialize())
}

func (c *Calendar) toICal() *ical.Calendar {
	out := &ical.Calendar{
		Components:         make([]ical.Component, 0, len(c.Components)+len(c.Events)),
		CalendarProperties: make([]ical.CalendarProperty, 0, len(c.Properties)),
	}
	for _, p := range c.Properties {
		out.CalendarProperties = append(out.CalendarProperties, ical.CalendarProperty{BaseProperty: toBaseProperty(p)})
	}
	for _, comp := range c.Components {
		out.Components = append(out.Components, toComponent(comp))
	}
	for _, ev := range c.Events {
		out.Components = append(out.Components, toComponent(ev.component()))
	}
	return out
}

func toComponent(c *Component) ical.Component {
	base := ical.ComponentBase{
		Properties: make([]ical.IANAProperty, 0, len(c.Properties)),
	}
	for _, p := range c.Properties {
		base.Properties = append(base.Properties, ical.IANAProperty{BaseProperty: toBaseProperty(p)})
	}
	for _, child := range c.Children {
		base.Components = append(base.Components, toComponent(child))
	}

	switch ical.ComponentType(c.Name) {
	case ical.ComponentVEvent:
		return &ical.VEvent{ComponentBase: base}
	case ical.ComponentVTodo:
		return &ical.VTodo{ComponentBase: base}
	case ical.ComponentVJournal:
		return &ical.VJournal{ComponentBase: base}
	case ical.ComponentVFreeBusy:
		return &ical.VBusy{ComponentBase: base}
	case ical.ComponentVTimezone:
		return &ical.VTimezone{ComponentBase: base}
	case ical.ComponentVAlarm:
		return &ical.VAlarm{ComponentBase: base}
	case ical.ComponentStandard:
		return &ical.Standard{ComponentBase: base}
	case ical.ComponentDaylight:
		return &ical.Daylight{ComponentBase: base}
	default:
		return &ical.GeneralComponent{ComponentBase: base, Token: c.Name}
	}
}

func toBaseProperty(p Property) ical.BaseProperty {
	bp := ical.BaseProperty{
		IANAToken:      p.Name,
		ICalParameters: make(map[string][]string, len(p.Params)),
		Value:          p.Value,
	}
	for k, vs := range p.Params {
		bp.ICalParameters[k] = append([]string(nil), vs...)
	}
	return bp
}
