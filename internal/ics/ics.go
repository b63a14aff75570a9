package ics

import (
	"fmt"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"negosync/internal/models"
)

const productID = "-//negosync//EN"

// GenerateUID creates a new unique identifier for an event.
func GenerateUID() string {
	return uuid.New().String()
}

// NewCalendar wraps a single VEVENT built from v.
func NewCalendar(uid string, v models.EventValues) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Children = append(cal.Children, newEvent(uid, v))
	return cal
}

func newEvent(uid string, v models.EventValues) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	setTimes(ve, v.Start, v.End, v.TimeZone)
	setText(ve, ical.PropSummary, v.Title)
	setText(ve, ical.PropDescription, v.Description)
	setText(ve, ical.PropLocation, v.Location)
	if v.Availability == models.AvailabilityBusy {
		ve.Props.SetText(ical.PropTransparency, "OPAQUE")
	} else {
		ve.Props.SetText(ical.PropTransparency, "TRANSPARENT")
	}
	return ve
}

// ApplyPatch overwrites the patched properties on every VEVENT in cal.
func ApplyPatch(cal *ical.Calendar, p models.EventPatch) error {
	events := cal.Events()
	if len(events) == 0 {
		return fmt.Errorf("calendar object has no VEVENT")
	}
	for _, ev := range events {
		tz := ""
		if prop := ev.Props.Get(ical.PropDateTimeStart); prop != nil {
			tz = prop.Params.Get(ical.ParamTimezoneID)
		}
		setTimes(ev.Component, p.Start, p.End, tz)
		setText(ev.Component, ical.PropSummary, p.Title)
		setText(ev.Component, ical.PropDescription, p.Description)
		setText(ev.Component, ical.PropLocation, p.Location)
		ev.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	}
	return nil
}

// Events converts the VEVENTs of cal into internal events overlapping
// [begin, end]. Recurring events yield one event per occurrence, and an
// instance carrying a RECURRENCE-ID replaces the occurrence it overrides.
// Events without a readable start are skipped.
func Events(cal *ical.Calendar, calendarID string, ref models.EventID, begin, end time.Time) []models.Event {
	overridden := make(map[int64]bool)
	for _, ev := range cal.Events() {
		if prop := ev.Props.Get(ical.PropRecurrenceID); prop != nil {
			if t, err := prop.DateTime(time.UTC); err == nil {
				overridden[t.Unix()] = true
			}
		}
	}

	var out []models.Event
	for _, ev := range cal.Events() {
		e, ok := toEvent(ev, calendarID, ref)
		if !ok {
			continue
		}
		var set *rrule.Set
		if ev.Props.Get(ical.PropRecurrenceID) == nil {
			var err error
			if set, err = ev.RecurrenceSet(time.UTC); err != nil {
				set = nil
			}
		}
		if set == nil {
			if overlaps(e.StartTime, e.EndTime, begin, end) {
				out = append(out, e)
			}
			continue
		}
		out = append(out, occurrences(e, set, overridden, begin, end)...)
	}
	return out
}

func toEvent(ev ical.Event, calendarID string, ref models.EventID) (models.Event, bool) {
	start, err := ev.DateTimeStart(time.UTC)
	if err != nil || start.IsZero() {
		return models.Event{}, false
	}
	end, err := ev.DateTimeEnd(time.UTC)
	if err != nil || end.Before(start) {
		end = start
	}
	e := models.Event{
		ID:          ref,
		CalendarID:  calendarID,
		Title:       text(ev.Component, ical.PropSummary),
		Description: text(ev.Component, ical.PropDescription),
		StartTime:   start,
		EndTime:     end,
		Location:    text(ev.Component, ical.PropLocation),
		UID:         text(ev.Component, ical.PropUID),
	}
	if prop := ev.Props.Get(ical.PropDateTimeStart); prop != nil {
		e.TimeZone = prop.Params.Get(ical.ParamTimezoneID)
	}
	if text(ev.Component, ical.PropTransparency) == "TRANSPARENT" {
		e.Availability = models.AvailabilityFree
	}
	return e, true
}

// occurrences expands a recurring event within [begin, end], skipping the
// starts listed in skip.
func occurrences(e models.Event, set *rrule.Set, skip map[int64]bool, begin, end time.Time) []models.Event {
	dur := e.EndTime.Sub(e.StartTime)
	var out []models.Event
	for _, start := range set.Between(begin.Add(-dur), end, true) {
		if skip[start.Unix()] || !overlaps(start, start.Add(dur), begin, end) {
			continue
		}
		occ := e
		occ.StartTime = start.UTC()
		occ.EndTime = start.Add(dur).UTC()
		out = append(out, occ)
	}
	return out
}

func overlaps(start, end, begin, until time.Time) bool {
	return !start.After(until) && !end.Before(begin)
}

// setTimes writes DTSTART/DTEND in the named zone. Without a loadable zone
// the times are written in UTC, since a TZID must name a real zone.
func setTimes(c *ical.Component, start, end time.Time, tz string) {
	loc := time.UTC
	if tz != "" && tz != "Local" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	c.Props.SetDateTime(ical.PropDateTimeStart, start.In(loc))
	c.Props.SetDateTime(ical.PropDateTimeEnd, end.In(loc))
	delete(c.Props, ical.PropDuration)
}

func setText(c *ical.Component, name, value string) {
	if value == "" {
		delete(c.Props, name)
		return
	}
	c.Props.SetText(name, value)
}

func text(c *ical.Component, name string) string {
	s, err := c.Props.Text(name)
	if err != nil {
		return ""
	}
	return s
}
