package models

import "time"

// EventID is an opaque reference to an event in an external calendar.
// Its format is owned by the provider that issued it.
type EventID string

// Availability is the free/busy flag written on external events.
type Availability int

const (
	AvailabilityBusy Availability = iota
	AvailabilityFree
)

// Interval is a scheduling window. End is the exclusive upper bound.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Duration returns the length of the interval.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Event represents a calendar event read back from a provider.
// This is an internal representation, independent of any specific calendar provider.
type Event struct {
	ID           EventID      // Provider reference of the event
	CalendarID   string       // Calendar the event belongs to
	Title        string       // Summary or title of the event
	Description  string       // Detailed description of the event
	StartTime    time.Time    // Start time of the event
	EndTime      time.Time    // End time of the event
	Location     string       // Location of the event
	TimeZone     string       // IANA zone the event was written with, if any
	Availability Availability // Busy or free
	UID          string       // The iCalendar UID, when the provider exposes one
}

// Calendar is a calendar visible to the configured credentials.
type Calendar struct {
	ID           string
	Name         string
	AccountName  string
	AccountType  string
	OwnerAccount string
	TimeZone     string
}

// CalendarAccount is the resolved target of a synchronization call.
type CalendarAccount struct {
	Email      string
	CalendarID string
	TimeZone   string
}

// EventValues is the full value set written when an event is inserted.
type EventValues struct {
	Start        time.Time
	End          time.Time
	Title        string
	Description  string
	CalendarID   string
	Location     string
	TimeZone     string
	Availability Availability
}

// EventPatch holds the fields overwritten when an existing event is updated.
// Calendar, timezone and availability are left as they were.
type EventPatch struct {
	Start       time.Time
	End         time.Time
	Title       string
	Description string
	Location    string
}
