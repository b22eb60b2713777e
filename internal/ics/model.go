package ics

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Well-known property names, in canonical uppercase form.
const (
	PropUID          = "UID"
	PropDTStart      = "DTSTART"
	PropDTEnd        = "DTEND"
	PropSummary      = "SUMMARY"
	PropLastModified = "LAST-MODIFIED"
	PropSequence     = "SEQUENCE"
	PropRecurrenceID = "RECURRENCE-ID"
	PropRRule        = "RRULE"
	PropExDate       = "EXDATE"
	PropDescription  = "DESCRIPTION"
	PropLocation     = "LOCATION"
)

const componentVEvent = "VEVENT"

// Kind tags the decoded type of a property value.
type Kind int

const (
	KindText Kind = iota
	KindTimestamp
	KindInteger
)

var propertyKinds = map[string]Kind{
	PropDTStart:        KindTimestamp,
	PropDTEnd:          KindTimestamp,
	PropLastModified:   KindTimestamp,
	PropRecurrenceID:   KindTimestamp,
	"DTSTAMP":          KindTimestamp,
	"CREATED":          KindTimestamp,
	"DUE":              KindTimestamp,
	"COMPLETED":        KindTimestamp,
	PropSequence:       KindInteger,
	"PRIORITY":         KindInteger,
	"PERCENT-COMPLETE": KindInteger,
}

// Property is a single named content line. Value holds the raw text exactly
// as parsed so that serialization does not lose information; typed views are
// decoded on demand.
type Property struct {
	Name   string
	Params map[string][]string
	Value  string
}

// NewProperty returns a property with a canonicalized name and no parameters.
func NewProperty(name, value string) Property {
	return Property{Name: canonicalName(name), Value: value}
}

// Kind reports how Value should be interpreted.
func (p Property) Kind() Kind {
	if strings.EqualFold(p.Param("VALUE"), "DATE") {
		return KindTimestamp
	}
	return propertyKinds[p.Name]
}

// Param returns the first value of the named parameter, or "".
func (p Property) Param(name string) string {
	vs := p.Params[canonicalName(name)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Time decodes the value as a DATE or DATE-TIME, honoring TZID.
func (p Property) Time() (time.Time, error) {
	t, err := parseICSTime(p.Value, p.Param("TZID"))
	if err != nil {
		return time.Time{}, &ValueError{Property: p.Name, Value: p.Value, Err: err}
	}
	return t, nil
}

// Int decodes the value as an integer.
func (p Property) Int() (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(p.Value))
	if err != nil {
		return 0, &ValueError{Property: p.Name, Value: p.Value, Err: err}
	}
	return n, nil
}

func (p Property) clone() Property {
	out := Property{Name: p.Name, Value: p.Value}
	if len(p.Params) > 0 {
		out.Params = make(map[string][]string, len(p.Params))
		for k, vs := range p.Params {
			out.Params[k] = append([]string(nil), vs...)
		}
	}
	return out
}

// canonical renders the property as a comparison key with parameters in a
// stable order.
func (p Property) canonical() string {
	var b strings.Builder
	b.WriteString(p.Name)
	keys := make([]string, 0, len(p.Params))
	for k := range p.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(';')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strings.Join(p.Params[k], ","))
	}
	b.WriteByte(':')
	b.WriteString(p.Value)
	return b.String()
}

// Component is a generic nested calendar component such as VTIMEZONE,
// STANDARD or VALARM.
type Component struct {
	Name       string
	Properties []Property
	Children   []*Component
}

// Clone returns a deep copy.
func (c *Component) Clone() *Component {
	if c == nil {
		return nil
	}
	return &Component{
		Name:       c.Name,
		Properties: cloneProperties(c.Properties),
		Children:   cloneComponents(c.Children),
	}
}

// Equal reports whether two components carry the same properties and
// children, ignoring property order.
func (c *Component) Equal(o *Component) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.canonical() == o.canonical()
}

func (c *Component) canonical() string {
	lines := make([]string, 0, len(c.Properties)+len(c.Children))
	for _, p := range c.Properties {
		lines = append(lines, p.canonical())
	}
	for _, ch := range c.Children {
		lines = append(lines, "BEGIN:"+ch.Name+"\n"+ch.canonical()+"\nEND:"+ch.Name)
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// Identity is the key two events are matched on across calendars. UID alone
// identifies an event; RecurrenceID is set only for override instances of a
// recurring event, which share the master's UID.
type Identity struct {
	UID          string
	RecurrenceID string
}

func (id Identity) String() string {
	if id.RecurrenceID == "" {
		return id.UID
	}
	return id.UID + "@" + id.RecurrenceID
}

// Event is a VEVENT.
type Event struct {
	Properties []Property
	Children   []*Component
}

// NewEvent builds an event from the given properties, in order.
func NewEvent(props ...Property) *Event {
	ev := &Event{Properties: make([]Property, 0, len(props))}
	for _, p := range props {
		p.Name = canonicalName(p.Name)
		ev.Properties = append(ev.Properties, p)
	}
	return ev
}

// Get returns the first property with the given name.
func (e *Event) Get(name string) (Property, bool) {
	name = canonicalName(name)
	for _, p := range e.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// All returns every property with the given name, in order.
func (e *Event) All(name string) []Property {
	name = canonicalName(name)
	var out []Property
	for _, p := range e.Properties {
		if p.Name == name {
			out = append(out, p)
		}
	}
	return out
}

// Has reports whether the event carries the named property.
func (e *Event) Has(name string) bool {
	_, ok := e.Get(name)
	return ok
}

func (e *Event) text(name string) string {
	p, _ := e.Get(name)
	return p.Value
}

func (e *Event) UID() string     { return e.text(PropUID) }
func (e *Event) Summary() string { return e.text(PropSummary) }

// Identity returns the UID qualified by RECURRENCE-ID when present.
func (e *Event) Identity() Identity {
	return Identity{UID: e.UID(), RecurrenceID: e.text(PropRecurrenceID)}
}

// Start decodes DTSTART. ok is false when the property is absent.
func (e *Event) Start() (t time.Time, ok bool, err error) {
	return e.timeProp(PropDTStart)
}

// End decodes DTEND. ok is false when the property is absent.
func (e *Event) End() (t time.Time, ok bool, err error) {
	return e.timeProp(PropDTEnd)
}

// LastModified decodes LAST-MODIFIED. ok is false when the property is absent.
func (e *Event) LastModified() (t time.Time, ok bool, err error) {
	return e.timeProp(PropLastModified)
}

// RecurrenceID decodes RECURRENCE-ID. ok is false when the property is absent.
func (e *Event) RecurrenceID() (t time.Time, ok bool, err error) {
	return e.timeProp(PropRecurrenceID)
}

// Sequence decodes SEQUENCE. ok is false when the property is absent.
func (e *Event) Sequence() (n int, ok bool, err error) {
	p, ok := e.Get(PropSequence)
	if !ok {
		return 0, false, nil
	}
	n, err = p.Int()
	return n, true, err
}

// AllDay reports whether DTSTART is a DATE rather than a DATE-TIME.
func (e *Event) AllDay() bool {
	p, ok := e.Get(PropDTStart)
	if !ok {
		return false
	}
	return strings.EqualFold(p.Param("VALUE"), "DATE") || !strings.Contains(p.Value, "T")
}

func (e *Event) timeProp(name string) (time.Time, bool, error) {
	p, ok := e.Get(name)
	if !ok {
		return time.Time{}, false, nil
	}
	t, err := p.Time()
	return t, true, err
}

// Clone returns a deep copy.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	return &Event{
		Properties: cloneProperties(e.Properties),
		Children:   cloneComponents(e.Children),
	}
}

// Without returns a deep copy of the event with every property named in
// names removed. The receiver is left untouched.
func (e *Event) Without(names ...string) *Event {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[canonicalName(n)] = struct{}{}
	}
	out := &Event{
		Properties: make([]Property, 0, len(e.Properties)),
		Children:   cloneComponents(e.Children),
	}
	for _, p := range e.Properties {
		if _, ok := drop[p.Name]; ok {
			continue
		}
		out.Properties = append(out.Properties, p.clone())
	}
	return out
}

// Equal reports whether both events carry the same property multiset and
// child components. Property order is not significant; values are compared
// exactly.
func (e *Event) Equal(o *Event) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.component().canonical() == o.component().canonical()
}

func (e *Event) component() *Component {
	return &Component{Name: componentVEvent, Properties: e.Properties, Children: e.Children}
}

// Calendar is a parsed VCALENDAR. Events keep their document order;
// calendar-level properties and non-event components (VTIMEZONE, VTODO, ...)
// are carried through unchanged.
type Calendar struct {
	Properties []Property
	Components []*Component
	Events     []*Event
}

// Duplicate returns a deep copy sharing no mutable state with c.
func (c *Calendar) Duplicate() *Calendar {
	out := &Calendar{
		Properties: cloneProperties(c.Properties),
		Components: cloneComponents(c.Components),
		Events:     make([]*Event, 0, len(c.Events)),
	}
	for _, ev := range c.Events {
		out.Events = append(out.Events, ev.Clone())
	}
	return out
}

// Event returns the first event with the given identity.
func (c *Calendar) Event(id Identity) (*Event, bool) {
	for _, ev := range c.Events {
		if ev.Identity() == id {
			return ev, true
		}
	}
	return nil, false
}

// EventByUID returns the first event carrying uid, master or override.
func (c *Calendar) EventByUID(uid string) (*Event, bool) {
	for _, ev := range c.Events {
		if ev.UID() == uid {
			return ev, true
		}
	}
	return nil, false
}

// UIDs lists the UID of every event in document order, duplicates included.
func (c *Calendar) UIDs() []string {
	out := make([]string, 0, len(c.Events))
	for _, ev := range c.Events {
		out = append(out, ev.UID())
	}
	return out
}

func cloneProperties(in []Property) []Property {
	if in == nil {
		return nil
	}
	out := make([]Property, len(in))
	for i, p := range in {
		out[i] = p.clone()
	}
	return out
}

func cloneComponents(in []*Component) []*Component {
	if in == nil {
		return nil
	}
	out := make([]*Component, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}

func canonicalName(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
