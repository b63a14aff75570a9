package models

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	timedWindow  = time.Hour
	allDayWindow = 24 * time.Hour
)

// Participant is a person taking part in a negotiation on either side.
type Participant struct {
	Name  string `json:"name"`
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
}

// Interest is a stated or assumed interest of one side.
type Interest struct {
	Title    string `json:"title"`
	Note     string `json:"note,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

// Position captures the opening, target and walk-away points.
type Position struct {
	Opening  string `json:"opening,omitempty"`
	Target   string `json:"target,omitempty"`
	WalkAway string `json:"walkAway,omitempty"`
}

// Attachment is a file or link attached to a negotiation.
type Attachment struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// Negotiation is a planned negotiation session.
type Negotiation struct {
	ID         string `json:"id"`
	ItemNumber int64  `json:"itemNumber"`
	Name       string `json:"name"`

	// Date and Time are independently optional. Only Date's calendar day and
	// Time's hour and minute are meaningful.
	Date *time.Time `json:"date,omitempty"`
	Time *time.Time `json:"time,omitempty"`

	Location string `json:"location"`
	Info     string `json:"info"`

	IsDraft           bool `json:"isDraft"`
	IsArchived        bool `json:"isArchived"`
	IsCompleted       bool `json:"isCompleted"`
	Initialized       bool `json:"initialized"`
	CurrentWizardStep int  `json:"currentWizardStep"`

	OurParticipants   []Participant `json:"ourParticipants"`
	TheirParticipants []Participant `json:"theirParticipants"`
	OurInterests      []Interest    `json:"ourInterests"`
	TheirInterests    []Interest    `json:"theirInterests"`

	UsePositionText  bool     `json:"usePositionText"`
	PositionStrength string   `json:"positionStrength"`
	PositionWeakness string   `json:"positionWeakness"`
	OurPressure      string   `json:"ourPressure"`
	TheirPressure    string   `json:"theirPressure"`
	OurPlanB         string   `json:"ourPlanB"`
	TheirPlanB       string   `json:"theirPlanB"`
	Position         Position `json:"position"`

	ExtraAgreement   string       `json:"extraAgreement"`
	IsStateInterests bool         `json:"isStateInterests"`
	NextStep         string       `json:"nextStep"`
	Attachments      []Attachment `json:"attachments"`

	// CalendarEventID is set once an external event has been inserted for
	// this record.
	CalendarEventID EventID `json:"calendarEventId,omitempty"`
}

// NewNegotiation returns an empty draft with a fresh identifier.
func NewNegotiation() *Negotiation {
	return &Negotiation{
		ID:               uuid.New().String(),
		ItemNumber:       1,
		IsDraft:          true,
		IsStateInterests: true,
	}
}

// Validate reports whether the record can be persisted.
func (n *Negotiation) Validate() error {
	if n.ID == "" {
		return errors.New("negotiation id is empty")
	}
	return nil
}

// CombinedDate merges Date's calendar day with Time's hour and minute.
// It reports false when either part is missing.
func (n *Negotiation) CombinedDate() (time.Time, bool) {
	if n.Date == nil || n.Time == nil {
		return time.Time{}, false
	}
	d, t := *n.Date, *n.Time
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), d.Second(), d.Nanosecond(), d.Location()), true
}

// TimeInterval is the window the negotiation occupies in a calendar: one hour
// from the combined date, or a whole day from Date when no time is set.
func (n *Negotiation) TimeInterval() (Interval, bool) {
	if start, ok := n.CombinedDate(); ok {
		return Interval{Start: start, End: start.Add(timedWindow)}, true
	}
	if n.Date != nil {
		return Interval{Start: *n.Date, End: n.Date.Add(allDayWindow)}, true
	}
	return Interval{}, false
}

// CopyWithNewID duplicates the record under a new identity. The calendar
// event reference stays with the original.
func (n *Negotiation) CopyWithNewID() *Negotiation {
	c := *n
	c.ID = uuid.New().String()
	c.CalendarEventID = ""
	c.Date = cloneTime(n.Date)
	c.Time = cloneTime(n.Time)
	c.OurParticipants = slices.Clone(n.OurParticipants)
	c.TheirParticipants = slices.Clone(n.TheirParticipants)
	c.OurInterests = slices.Clone(n.OurInterests)
	c.TheirInterests = slices.Clone(n.TheirInterests)
	c.Attachments = slices.Clone(n.Attachments)
	return &c
}

// Synced reports whether an external event exists for the record.
func (n *Negotiation) Synced() bool {
	return n.CalendarEventID != ""
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
