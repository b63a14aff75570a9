package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	calsync "negosync/internal/calendar"
	"negosync/internal/models"
)

const (
	transparencyOpaque      = "opaque"
	transparencyTransparent = "transparent"
	ownerRole               = "owner"
	statusCancelled         = "cancelled"
)

var errNoAccounts = errors.New("no authenticated google account, run the 'auth' command first")

// CalendarClient implements calendar.Provider on top of the Google Calendar
// API. It holds one service per authenticated account.
type CalendarClient struct {
	logger   *slog.Logger
	accounts []string
	services map[string]*calendar.Service

	mu     sync.Mutex
	owners map[string]string // calendar id -> account
}

var _ calsync.Provider = (*CalendarClient)(nil)

// NewClient creates a Google Calendar provider for every account that has a
// token file in tokenDir.
func NewClient(ctx context.Context, logger *slog.Logger, clientID, clientSecret, tokenDir string) (*CalendarClient, error) {
	config, err := getOAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	accounts, err := GetTokenAccounts(tokenDir)
	if err != nil {
		return nil, fmt.Errorf("could not list token files: %w", err)
	}

	services := make(map[string]*calendar.Service, len(accounts))
	for _, acc := range accounts {
		token, err := tokenFromFile(tokenPath(tokenDir, acc))
		if err != nil {
			return nil, fmt.Errorf("could not load token for account %s: %w. Please run the 'auth' command first", acc, err)
		}
		service, err := calendar.NewService(ctx, option.WithHTTPClient(config.Client(ctx, token)))
		if err != nil {
			return nil, fmt.Errorf("failed to create calendar service for %s: %w", acc, err)
		}
		services[acc] = service
	}
	logger.Info("Initialized Google clients for all accounts.", "count", len(services))

	return newCalendarClient(logger, accounts, services), nil
}

func newCalendarClient(logger *slog.Logger, accounts []string, services map[string]*calendar.Service) *CalendarClient {
	return &CalendarClient{
		logger:   logger,
		accounts: accounts,
		services: services,
		owners:   map[string]string{},
	}
}

// Accounts returns the authenticated accounts, oldest token first.
func (c *CalendarClient) Accounts(_ context.Context, accountType string) ([]string, error) {
	if accountType != calsync.GoogleAccountType {
		return nil, nil
	}
	return append([]string(nil), c.accounts...), nil
}

// Calendars lists the calendars of every account and keeps the ones matching q.
func (c *CalendarClient) Calendars(ctx context.Context, q calsync.CalendarQuery) ([]models.Calendar, error) {
	if !q.IsZero() && q.AccountType != calsync.GoogleAccountType {
		return nil, nil
	}
	var out []models.Calendar
	for _, acc := range c.accounts {
		if !q.IsZero() && acc != q.AccountName {
			continue
		}
		list, err := c.services[acc].CalendarList.List().Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list calendars for %s: %w", acc, err)
		}
		for _, item := range list.Items {
			cal := toInternalCalendar(acc, item)
			c.remember(cal.ID, acc)
			if q.Matches(cal) {
				out = append(out, cal)
			}
		}
	}
	return out, nil
}

// Instances fetches single event instances overlapping [begin, end].
func (c *CalendarClient) Instances(ctx context.Context, begin, end time.Time, calendarID string) ([]models.Event, error) {
	c.logger.Debug("Fetching events", "calendarID", calendarID, "begin", begin, "end", end)
	service, err := c.serviceFor(calendarID)
	if err != nil {
		return nil, err
	}
	events, err := service.Events.List(calendarID).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(begin.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve events: %w", err)
	}

	c.logger.Debug("Successfully fetched events from Google Calendar", "count", len(events.Items), "calendarID", calendarID)
	return toInternalEvents(events.Items, calendarID), nil
}

// Insert creates an event and returns its "<calendar>/<event>" reference.
func (c *CalendarClient) Insert(ctx context.Context, v models.EventValues) (models.EventID, error) {
	ev := &calendar.Event{
		Summary:      v.Title,
		Description:  v.Description,
		Location:     v.Location,
		Start:        eventDateTime(v.Start, v.TimeZone),
		End:          eventDateTime(v.End, v.TimeZone),
		Transparency: transparency(v.Availability),
	}
	service, err := c.serviceFor(v.CalendarID)
	if err != nil {
		return "", err
	}
	created, err := service.Events.Insert(v.CalendarID, ev).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to insert event: %w", err)
	}
	return eventRef(v.CalendarID, created.Id), nil
}

// Update patches the time, title, description and location of an event.
func (c *CalendarClient) Update(ctx context.Context, id models.EventID, p models.EventPatch) error {
	calID, eventID, err := splitEventRef(id)
	if err != nil {
		return err
	}
	ev := &calendar.Event{
		Summary:     p.Title,
		Description: p.Description,
		Location:    p.Location,
		Start:       &calendar.EventDateTime{DateTime: p.Start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: p.End.Format(time.RFC3339)},
		// Empty strings are omitted from the patch body unless forced.
		ForceSendFields: []string{"Summary", "Description", "Location"},
	}
	service, err := c.serviceFor(calID)
	if err != nil {
		return err
	}
	patched, err := service.Events.Patch(calID, eventID, ev).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to patch event: %w", missing(err))
	}
	// Deleted events linger as cancelled and still accept patches.
	if patched.Status == statusCancelled {
		return fmt.Errorf("event %s was cancelled: %w", eventID, calsync.ErrEventNotFound)
	}
	return nil
}

// Delete removes an event.
func (c *CalendarClient) Delete(ctx context.Context, id models.EventID) error {
	calID, eventID, err := splitEventRef(id)
	if err != nil {
		return err
	}
	service, err := c.serviceFor(calID)
	if err != nil {
		return err
	}
	if err := service.Events.Delete(calID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete event: %w", missing(err))
	}
	return nil
}

func (c *CalendarClient) remember(calendarID, account string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners[calendarID] = account
}

// serviceFor picks the account able to reach calendarID. Primary calendars
// are named after their account; other calendars are known once listed.
func (c *CalendarClient) serviceFor(calendarID string) (*calendar.Service, error) {
	if s, ok := c.services[calendarID]; ok {
		return s, nil
	}
	c.mu.Lock()
	acc, ok := c.owners[calendarID]
	c.mu.Unlock()
	if ok {
		return c.services[acc], nil
	}
	if len(c.accounts) == 0 {
		return nil, errNoAccounts
	}
	return c.services[c.accounts[0]], nil
}

// missing marks 404 and 410 API responses as calsync.ErrEventNotFound.
func missing(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
		return fmt.Errorf("%w: %w", calsync.ErrEventNotFound, err)
	}
	return err
}

func toInternalCalendar(account string, item *calendar.CalendarListEntry) models.Calendar {
	cal := models.Calendar{
		ID:          item.Id,
		Name:        item.Summary,
		AccountName: account,
		AccountType: calsync.GoogleAccountType,
		TimeZone:    item.TimeZone,
	}
	if item.SummaryOverride != "" {
		cal.Name = item.SummaryOverride
	}
	if item.AccessRole == ownerRole {
		cal.OwnerAccount = item.Id
	}
	return cal
}

// toInternalEvents converts Google Calendar events to the internal Event model.
func toInternalEvents(googleEvents []*calendar.Event, calendarID string) []models.Event {
	var internalEvents []models.Event
	for _, item := range googleEvents {
		if item.Start == nil || item.End == nil {
			continue
		}
		startTime, err := parseEventTime(item.Start)
		if err != nil {
			continue
		}
		endTime, err := parseEventTime(item.End)
		if err != nil {
			continue
		}

		event := models.Event{
			ID:          eventRef(calendarID, item.Id),
			CalendarID:  calendarID,
			Title:       item.Summary,
			Description: item.Description,
			StartTime:   startTime,
			EndTime:     endTime,
			Location:    item.Location,
			TimeZone:    item.Start.TimeZone,
			UID:         item.ICalUID,
		}
		if item.Transparency == transparencyTransparent {
			event.Availability = models.AvailabilityFree
		}
		internalEvents = append(internalEvents, event)
	}
	return internalEvents
}

// parseEventTime reads a timed or all-day event boundary.
func parseEventTime(dt *calendar.EventDateTime) (time.Time, error) {
	if dt.DateTime != "" {
		return time.Parse(time.RFC3339, dt.DateTime)
	}
	return time.Parse(time.DateOnly, dt.Date)
}

func eventDateTime(t time.Time, tz string) *calendar.EventDateTime {
	return &calendar.EventDateTime{DateTime: t.Format(time.RFC3339), TimeZone: tz}
}

func transparency(a models.Availability) string {
	if a == models.AvailabilityFree {
		return transparencyTransparent
	}
	return transparencyOpaque
}

func eventRef(calendarID, eventID string) models.EventID {
	return models.EventID(calendarID + "/" + eventID)
}

// splitEventRef reverses eventRef. Calendar ids never contain a slash.
func splitEventRef(id models.EventID) (calendarID, eventID string, err error) {
	calendarID, eventID, ok := strings.Cut(string(id), "/")
	if !ok || calendarID == "" || eventID == "" {
		return "", "", fmt.Errorf("malformed google event reference %q", id)
	}
	return calendarID, eventID, nil
}
