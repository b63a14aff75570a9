package calendar_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"negosync/internal/calendar"
	"negosync/internal/calendar/calendartest"
	"negosync/internal/models"
)

const email = "ann@example.com"

func newAdapter(p calendar.Provider, opts calendar.Options) *calendar.Adapter {
	return calendar.NewAdapter(slog.New(slog.NewTextHandler(io.Discard, nil)), p, opts)
}

func scheduled() (*models.Negotiation, models.Interval) {
	n := models.NewNegotiation()
	n.Name = "Lease renewal"
	n.Info = "Bring last year's figures"
	n.Location = "Room 4"
	start := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	return n, models.Interval{Start: start, End: start.Add(time.Hour)}
}

func TestResolveDefaultAccount(t *testing.T) {
	p := calendartest.New(email, "Europe/Berlin")
	a := newAdapter(p, calendar.Options{})

	acc, err := a.ResolveDefaultAccount(context.Background())
	if err != nil {
		t.Fatalf("ResolveDefaultAccount: %v", err)
	}
	if acc == nil {
		t.Fatal("expected an account")
	}
	if acc.Email != email || acc.CalendarID != email || acc.TimeZone != "Europe/Berlin" {
		t.Errorf("account = %+v", acc)
	}
}

func TestResolveDefaultAccountPicksFirst(t *testing.T) {
	p := calendartest.New(email, "UTC")
	p.AccountsByType[calendar.GoogleAccountType] = []string{email, "bob@example.com"}
	p.CalendarList = append(p.CalendarList, models.Calendar{
		ID: "bob@example.com", AccountName: "bob@example.com",
		AccountType: calendar.GoogleAccountType, OwnerAccount: "bob@example.com",
	})

	acc, err := newAdapter(p, calendar.Options{}).ResolveDefaultAccount(context.Background())
	if err != nil || acc == nil {
		t.Fatalf("ResolveDefaultAccount = %v, %v", acc, err)
	}
	if acc.Email != email {
		t.Errorf("Email = %q, want %q", acc.Email, email)
	}
}

func TestResolveDefaultAccountNone(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *calendartest.Provider)
	}{
		{"no accounts", func(p *calendartest.Provider) { p.AccountsByType = map[string][]string{} }},
		{"no owned calendar", func(p *calendartest.Provider) { p.CalendarList[0].OwnerAccount = "someone@else" }},
		{"wrong account type", func(p *calendartest.Provider) { p.CalendarList[0].AccountType = "caldav" }},
		{"calendar query fails", func(p *calendartest.Provider) { p.CalendarsErr = errors.New("cursor closed") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := calendartest.New(email, "UTC")
			tt.setup(p)
			acc, err := newAdapter(p, calendar.Options{}).ResolveDefaultAccount(context.Background())
			if err != nil {
				t.Fatalf("ResolveDefaultAccount: %v", err)
			}
			if acc != nil {
				t.Errorf("account = %+v, want nil", acc)
			}
		})
	}
}

func TestCreateEvent(t *testing.T) {
	p := calendartest.New(email, "Europe/Berlin")
	a := newAdapter(p, calendar.Options{})
	n, iv := scheduled()
	acc := &models.CalendarAccount{Email: email, CalendarID: email, TimeZone: "Europe/Berlin"}

	id, err := a.CreateEvent(context.Background(), n, iv, acc)
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if id == "" {
		t.Fatal("expected an event id")
	}
	got := p.Events[id]
	want := models.EventValues{
		Start:        iv.Start,
		End:          iv.End,
		Title:        n.Name,
		Description:  n.Info,
		CalendarID:   email,
		Location:     n.Location,
		TimeZone:     "Europe/Berlin",
		Availability: models.AvailabilityBusy,
	}
	if got != want {
		t.Errorf("inserted values = %+v, want %+v", got, want)
	}
}

func TestCreateEventWithoutAccount(t *testing.T) {
	p := calendartest.New(email, "UTC")
	n, iv := scheduled()

	id, err := newAdapter(p, calendar.Options{}).CreateEvent(context.Background(), n, iv, nil)
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if id != "" {
		t.Errorf("id = %q, want empty", id)
	}
	if p.Inserts != 0 {
		t.Errorf("Inserts = %d, want 0", p.Inserts)
	}
}

func TestUpdateEvent(t *testing.T) {
	p := calendartest.New(email, "Europe/Berlin")
	a := newAdapter(p, calendar.Options{})
	n, iv := scheduled()
	acc := &models.CalendarAccount{Email: email, CalendarID: email, TimeZone: "Europe/Berlin"}

	id, err := a.CreateEvent(context.Background(), n, iv, acc)
	if err != nil {
		t.Fatal(err)
	}
	n.CalendarEventID = id
	n.Name = "Lease renewal (moved)"
	moved := models.Interval{Start: iv.Start.Add(2 * time.Hour), End: iv.End.Add(2 * time.Hour)}

	if err := a.UpdateEvent(context.Background(), n, moved); err != nil {
		t.Fatalf("UpdateEvent: %v", err)
	}
	got := p.Events[id]
	if got.Title != n.Name || !got.Start.Equal(moved.Start) || !got.End.Equal(moved.End) {
		t.Errorf("updated values = %+v", got)
	}
	if got.CalendarID != email || got.TimeZone != "Europe/Berlin" || got.Availability != models.AvailabilityBusy {
		t.Errorf("update touched calendar, timezone or availability: %+v", got)
	}
}

func TestWritesRequireEventID(t *testing.T) {
	p := calendartest.New(email, "UTC")
	a := newAdapter(p, calendar.Options{})
	n, iv := scheduled()

	if err := a.UpdateEvent(context.Background(), n, iv); !errors.Is(err, calendar.ErrInvalidArgument) {
		t.Errorf("UpdateEvent err = %v, want ErrInvalidArgument", err)
	}
	if err := a.DeleteEvent(context.Background(), n); !errors.Is(err, calendar.ErrInvalidArgument) {
		t.Errorf("DeleteEvent err = %v, want ErrInvalidArgument", err)
	}
	if p.Updates != 0 || p.Deletes != 0 {
		t.Errorf("provider was called: updates=%d deletes=%d", p.Updates, p.Deletes)
	}
}

func TestWritesToVanishedEventWrapNotFound(t *testing.T) {
	p := calendartest.New(email, "UTC")
	a := newAdapter(p, calendar.Options{})
	n, iv := scheduled()
	n.CalendarEventID = "missing"

	if err := a.UpdateEvent(context.Background(), n, iv); !errors.Is(err, calendar.ErrEventNotFound) {
		t.Errorf("UpdateEvent err = %v, want ErrEventNotFound", err)
	}
	if err := a.DeleteEvent(context.Background(), n); !errors.Is(err, calendar.ErrEventNotFound) {
		t.Errorf("DeleteEvent err = %v, want ErrEventNotFound", err)
	}
}

func TestDeleteEvent(t *testing.T) {
	p := calendartest.New(email, "UTC")
	a := newAdapter(p, calendar.Options{})
	n, iv := scheduled()

	id, err := a.CreateEvent(context.Background(), n, iv, &models.CalendarAccount{Email: email, CalendarID: email})
	if err != nil {
		t.Fatal(err)
	}
	n.CalendarEventID = id
	if err := a.DeleteEvent(context.Background(), n); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	if _, ok := p.Events[id]; ok {
		t.Error("event still present after delete")
	}
	if n.CalendarEventID != id {
		t.Error("DeleteEvent modified the record")
	}
}

func TestListEventsInRange(t *testing.T) {
	p := calendartest.New(email, "UTC")
	a := newAdapter(p, calendar.Options{})
	n, iv := scheduled()
	acc := &models.CalendarAccount{Email: email, CalendarID: email}
	if _, err := a.CreateEvent(context.Background(), n, iv, acc); err != nil {
		t.Fatal(err)
	}

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	events, err := a.ListEventsInRange(context.Background(), day, day.Add(24*time.Hour), acc)
	if err != nil {
		t.Fatalf("ListEventsInRange: %v", err)
	}
	if len(events) != 1 || events[0].Title != n.Name {
		t.Errorf("events = %+v", events)
	}

	events, _ = a.ListEventsInRange(context.Background(), day.AddDate(0, 1, 0), day.AddDate(0, 1, 1), acc)
	if len(events) != 0 {
		t.Errorf("events outside range = %d, want 0", len(events))
	}
}

func TestReadFailuresYieldEmpty(t *testing.T) {
	p := calendartest.New(email, "UTC")
	p.InstancesErr = errors.New("provider crashed")
	p.CalendarsErr = errors.New("provider crashed")
	a := newAdapter(p, calendar.Options{})
	acc := &models.CalendarAccount{Email: email, CalendarID: email}

	events, err := a.ListEventsInRange(context.Background(), time.Now(), time.Now().Add(time.Hour), acc)
	if err != nil || events == nil || len(events) != 0 {
		t.Errorf("ListEventsInRange = %v, %v; want empty, nil", events, err)
	}
	cals, err := a.ListAvailableCalendars(context.Background())
	if err != nil || cals == nil || len(cals) != 0 {
		t.Errorf("ListAvailableCalendars = %v, %v; want empty, nil", cals, err)
	}
}

func TestStrictReadsSurfaceErrors(t *testing.T) {
	p := calendartest.New(email, "UTC")
	p.InstancesErr = errors.New("provider crashed")
	p.CalendarsErr = errors.New("provider crashed")
	a := newAdapter(p, calendar.Options{StrictReads: true})
	acc := &models.CalendarAccount{Email: email, CalendarID: email}

	events, err := a.ListEventsInRange(context.Background(), time.Now(), time.Now().Add(time.Hour), acc)
	if err == nil {
		t.Error("ListEventsInRange: expected error")
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0", len(events))
	}
	if _, err := a.ListAvailableCalendars(context.Background()); err == nil {
		t.Error("ListAvailableCalendars: expected error")
	}
}

func TestListAvailableCalendars(t *testing.T) {
	p := calendartest.New(email, "UTC")
	p.CalendarList = append(p.CalendarList, models.Calendar{ID: "team@group", Name: "Team"})

	cals, err := newAdapter(p, calendar.Options{}).ListAvailableCalendars(context.Background())
	if err != nil {
		t.Fatalf("ListAvailableCalendars: %v", err)
	}
	if len(cals) != 2 {
		t.Errorf("calendars = %d, want 2", len(cals))
	}
}
