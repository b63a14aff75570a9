package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"negosync/internal/models"
)

// GoogleAccountType is the account type of Google-backed calendars.
const GoogleAccountType = "com.google"

// ErrInvalidArgument is returned when a caller violates an operation's
// precondition, such as updating a record that was never inserted.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrEventNotFound is wrapped by providers when the referenced event no
// longer exists in the external calendar.
var ErrEventNotFound = errors.New("calendar event not found")

// CalendarQuery selects calendars by account. A zero query selects every
// calendar; otherwise all three fields must match.
type CalendarQuery struct {
	AccountName  string
	AccountType  string
	OwnerAccount string
}

// IsZero reports whether the query selects all calendars.
func (q CalendarQuery) IsZero() bool {
	return q == CalendarQuery{}
}

// Matches reports whether c satisfies the query.
func (q CalendarQuery) Matches(c models.Calendar) bool {
	if q.IsZero() {
		return true
	}
	return c.AccountName == q.AccountName && c.AccountType == q.AccountType && c.OwnerAccount == q.OwnerAccount
}

// Provider is an external calendar store.
type Provider interface {
	Accounts(ctx context.Context, accountType string) ([]string, error)
	Calendars(ctx context.Context, q CalendarQuery) ([]models.Calendar, error)
	Instances(ctx context.Context, begin, end time.Time, calendarID string) ([]models.Event, error)
	Insert(ctx context.Context, v models.EventValues) (models.EventID, error)
	Update(ctx context.Context, id models.EventID, p models.EventPatch) error
	Delete(ctx context.Context, id models.EventID) error
}

// Options tune the adapter.
type Options struct {
	// AccountType restricts default-account resolution. Defaults to GoogleAccountType.
	AccountType string
	// StrictReads makes read operations return provider errors instead of an
	// empty result.
	StrictReads bool
}

// Adapter translates negotiation records into calendar operations.
type Adapter struct {
	provider Provider
	logger   *slog.Logger
	opts     Options
}

// NewAdapter creates a new Adapter.
func NewAdapter(logger *slog.Logger, provider Provider, opts Options) *Adapter {
	if opts.AccountType == "" {
		opts.AccountType = GoogleAccountType
	}
	return &Adapter{provider: provider, logger: logger, opts: opts}
}

// ResolveDefaultAccount picks the first account of the configured type and
// the calendar it owns. It returns nil when nothing can be resolved.
//
// There is no way to choose between several accounts yet; the first one wins.
func (a *Adapter) ResolveDefaultAccount(ctx context.Context) (*models.CalendarAccount, error) {
	accounts, err := a.provider.Accounts(ctx, a.opts.AccountType)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s accounts: %w", a.opts.AccountType, err)
	}
	if len(accounts) == 0 {
		a.logger.Info("No calendar account available.", "accountType", a.opts.AccountType)
		return nil, nil
	}
	email := accounts[0]
	if len(accounts) > 1 {
		a.logger.Debug("Several accounts found, using the first.", "account", email, "count", len(accounts))
	}
	return a.CalendarForEmail(ctx, email)
}

// CalendarForEmail looks up the calendar owned by the given account.
func (a *Adapter) CalendarForEmail(ctx context.Context, email string) (*models.CalendarAccount, error) {
	cals, err := a.provider.Calendars(ctx, CalendarQuery{
		AccountName:  email,
		AccountType:  a.opts.AccountType,
		OwnerAccount: email,
	})
	if err != nil {
		a.logger.Error("Could not query calendars for account", "account", email, "error", err)
		if a.opts.StrictReads {
			return nil, fmt.Errorf("failed to query calendars: %w", err)
		}
		return nil, nil
	}
	if len(cals) == 0 {
		a.logger.Info("No calendar owned by account.", "account", email)
		return nil, nil
	}
	c := cals[0]
	return &models.CalendarAccount{Email: email, CalendarID: c.ID, TimeZone: c.TimeZone}, nil
}

// ListEventsInRange returns the event instances overlapping [begin, end] in
// the account's calendar.
func (a *Adapter) ListEventsInRange(ctx context.Context, begin, end time.Time, account *models.CalendarAccount) ([]models.Event, error) {
	if account == nil {
		return []models.Event{}, nil
	}
	events, err := a.provider.Instances(ctx, begin, end, account.CalendarID)
	if err != nil {
		a.logger.Error("Could not query events", "calendarID", account.CalendarID, "error", err)
		if a.opts.StrictReads {
			return []models.Event{}, fmt.Errorf("failed to query events: %w", err)
		}
		return []models.Event{}, nil
	}
	if events == nil {
		events = []models.Event{}
	}
	return events, nil
}

// ListAvailableCalendars returns every calendar visible to the provider.
func (a *Adapter) ListAvailableCalendars(ctx context.Context) ([]models.Calendar, error) {
	cals, err := a.provider.Calendars(ctx, CalendarQuery{})
	if err != nil {
		a.logger.Error("Could not query calendars", "error", err)
		if a.opts.StrictReads {
			return []models.Calendar{}, fmt.Errorf("failed to query calendars: %w", err)
		}
		return []models.Calendar{}, nil
	}
	if cals == nil {
		cals = []models.Calendar{}
	}
	return cals, nil
}

// ValuesFor builds the value set inserted for a negotiation.
func ValuesFor(n *models.Negotiation, interval models.Interval, account models.CalendarAccount) models.EventValues {
	return models.EventValues{
		Start:        interval.Start,
		End:          interval.End,
		Title:        n.Name,
		Description:  n.Info,
		CalendarID:   account.CalendarID,
		Location:     n.Location,
		TimeZone:     account.TimeZone,
		Availability: models.AvailabilityBusy,
	}
}

// CreateEvent inserts an event for the negotiation and returns its reference.
// A nil account means the record cannot be synced; the result is then empty
// and no error is returned.
func (a *Adapter) CreateEvent(ctx context.Context, n *models.Negotiation, interval models.Interval, account *models.CalendarAccount) (models.EventID, error) {
	if account == nil {
		a.logger.Warn("No calendar account, event not created.", "negotiation", n.ID)
		return "", nil
	}
	id, err := a.provider.Insert(ctx, ValuesFor(n, interval, *account))
	if err != nil {
		return "", fmt.Errorf("failed to insert event for negotiation %s: %w", n.ID, err)
	}
	a.logger.Info("Created calendar event.", "negotiation", n.ID, "event", id)
	return id, nil
}

// UpdateEvent overwrites the time, title, description and location of the
// record's event.
func (a *Adapter) UpdateEvent(ctx context.Context, n *models.Negotiation, interval models.Interval) error {
	if !n.Synced() {
		return fmt.Errorf("negotiation %s has no calendar event: %w", n.ID, ErrInvalidArgument)
	}
	patch := models.EventPatch{
		Start:       interval.Start,
		End:         interval.End,
		Title:       n.Name,
		Description: n.Info,
		Location:    n.Location,
	}
	if err := a.provider.Update(ctx, n.CalendarEventID, patch); err != nil {
		return fmt.Errorf("failed to update event %s: %w", n.CalendarEventID, err)
	}
	a.logger.Info("Updated calendar event.", "negotiation", n.ID, "event", n.CalendarEventID)
	return nil
}

// DeleteEvent removes the record's event. The record itself is not modified.
func (a *Adapter) DeleteEvent(ctx context.Context, n *models.Negotiation) error {
	if !n.Synced() {
		return fmt.Errorf("negotiation %s has no calendar event: %w", n.ID, ErrInvalidArgument)
	}
	if err := a.provider.Delete(ctx, n.CalendarEventID); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", n.CalendarEventID, err)
	}
	a.logger.Info("Deleted calendar event.", "negotiation", n.ID, "event", n.CalendarEventID)
	return nil
}
