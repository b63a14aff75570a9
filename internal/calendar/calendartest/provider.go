// Package calendartest provides an in-memory calendar.Provider for tests.
package calendartest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"negosync/internal/calendar"
	"negosync/internal/models"
)

// Provider keeps calendars and events in memory. Setting one of the Err
// fields makes the matching operation fail.
type Provider struct {
	mu sync.Mutex

	AccountsByType map[string][]string
	CalendarList   []models.Calendar
	Events         map[models.EventID]models.EventValues

	AccountsErr  error
	CalendarsErr error
	InstancesErr error
	WriteErr     error

	Inserts int
	Updates int
	Deletes int

	next int
}

var _ calendar.Provider = (*Provider)(nil)

// New returns a provider with one Google account owning its primary calendar.
func New(email, tz string) *Provider {
	return &Provider{
		AccountsByType: map[string][]string{calendar.GoogleAccountType: {email}},
		CalendarList: []models.Calendar{{
			ID:           email,
			Name:         email,
			AccountName:  email,
			AccountType:  calendar.GoogleAccountType,
			OwnerAccount: email,
			TimeZone:     tz,
		}},
		Events: map[models.EventID]models.EventValues{},
	}
}

func (p *Provider) Accounts(_ context.Context, accountType string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.AccountsErr != nil {
		return nil, p.AccountsErr
	}
	return append([]string(nil), p.AccountsByType[accountType]...), nil
}

func (p *Provider) Calendars(_ context.Context, q calendar.CalendarQuery) ([]models.Calendar, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CalendarsErr != nil {
		return nil, p.CalendarsErr
	}
	var out []models.Calendar
	for _, c := range p.CalendarList {
		if q.Matches(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (p *Provider) Instances(_ context.Context, begin, end time.Time, calendarID string) ([]models.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.InstancesErr != nil {
		return nil, p.InstancesErr
	}
	var out []models.Event
	for id, v := range p.Events {
		if v.CalendarID != calendarID || v.End.Before(begin) || v.Start.After(end) {
			continue
		}
		out = append(out, models.Event{
			ID:           id,
			CalendarID:   v.CalendarID,
			Title:        v.Title,
			Description:  v.Description,
			StartTime:    v.Start,
			EndTime:      v.End,
			Location:     v.Location,
			TimeZone:     v.TimeZone,
			Availability: v.Availability,
		})
	}
	return out, nil
}

func (p *Provider) Insert(_ context.Context, v models.EventValues) (models.EventID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WriteErr != nil {
		return "", p.WriteErr
	}
	p.next++
	id := models.EventID(fmt.Sprintf("%d", p.next))
	p.Events[id] = v
	p.Inserts++
	return id, nil
}

func (p *Provider) Update(_ context.Context, id models.EventID, patch models.EventPatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WriteErr != nil {
		return p.WriteErr
	}
	v, ok := p.Events[id]
	if !ok {
		return fmt.Errorf("event %s: %w", id, calendar.ErrEventNotFound)
	}
	v.Start, v.End = patch.Start, patch.End
	v.Title, v.Description, v.Location = patch.Title, patch.Description, patch.Location
	p.Events[id] = v
	p.Updates++
	return nil
}

func (p *Provider) Delete(_ context.Context, id models.EventID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WriteErr != nil {
		return p.WriteErr
	}
	if _, ok := p.Events[id]; !ok {
		return fmt.Errorf("event %s: %w", id, calendar.ErrEventNotFound)
	}
	delete(p.Events, id)
	p.Deletes++
	return nil
}
