package icloud

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	calsync "negosync/internal/calendar"
	"negosync/internal/ics"
	"negosync/internal/models"
)

const (
	// DefaultEndpoint is the iCloud CalDAV server.
	DefaultEndpoint = "https://caldav.icloud.com/"
	// AccountType identifies CalDAV accounts during account resolution.
	AccountType = "caldav"
)

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request. Reading
// or deleting a calendar object that no longer exists fails with
// calsync.ErrEventNotFound.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "negosync/1.0")
	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if isObjectRequest(req) && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone) {
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, calsync.ErrEventNotFound)
	}
	return resp, nil
}

func isObjectRequest(req *http.Request) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodDelete {
		return false
	}
	return strings.HasSuffix(req.URL.Path, ".ics")
}

// Options configure a CalDAVClient.
type Options struct {
	Endpoint     string
	Username     string
	Password     string
	CalendarName string // optional; when set only this calendar is exposed
	TimeZone     string // reported for every calendar, CalDAV collections carry none
}

// CalDAVClient implements calendar.Provider against a CalDAV server (iCloud by default).
type CalDAVClient struct {
	caldavClient *caldav.Client
	webdavClient *webdav.Client
	logger       *slog.Logger
	opts         Options
}

var _ calsync.Provider = (*CalDAVClient)(nil)

// NewClient creates a new CalDAVClient. No request is made until the first call.
func NewClient(logger *slog.Logger, opts Options) (*CalDAVClient, error) {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	transport := &customTransport{
		Username:  opts.Username,
		Password:  opts.Password,
		Transport: http.DefaultTransport,
	}
	httpClient := &http.Client{Transport: transport}

	caldavClient, err := caldav.NewClient(httpClient, opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	webdavClient, err := webdav.NewClient(httpClient, opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create webdav client: %w", err)
	}

	return &CalDAVClient{
		caldavClient: caldavClient,
		webdavClient: webdavClient,
		logger:       logger,
		opts:         opts,
	}, nil
}

// Accounts returns the configured username for the caldav account type.
func (c *CalDAVClient) Accounts(_ context.Context, accountType string) ([]string, error) {
	if accountType != AccountType || c.opts.Username == "" {
		return nil, nil
	}
	return []string{c.opts.Username}, nil
}

// Calendars discovers the user's calendars. Every calendar in the user's
// home set is owned by the user.
func (c *CalDAVClient) Calendars(ctx context.Context, q calsync.CalendarQuery) ([]models.Calendar, error) {
	if !q.IsZero() && (q.AccountType != AccountType || q.AccountName != c.opts.Username) {
		return nil, nil
	}

	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find calendars: %w", err)
	}

	var out []models.Calendar
	for _, cal := range calendars {
		if c.opts.CalendarName != "" && cal.Name != c.opts.CalendarName {
			continue
		}
		if !supportsEvents(cal) {
			continue
		}
		mc := models.Calendar{
			ID:           cal.Path,
			Name:         cal.Name,
			AccountName:  c.opts.Username,
			AccountType:  AccountType,
			OwnerAccount: c.opts.Username,
			TimeZone:     c.opts.TimeZone,
		}
		if q.Matches(mc) {
			out = append(out, mc)
		}
	}
	c.logger.Debug("Discovered CalDAV calendars", "count", len(out))
	return out, nil
}

// Instances queries VEVENTs overlapping [begin, end] in the calendar
// collection. The server returns whole calendar objects, so recurring events
// are expanded and clipped here.
func (c *CalDAVClient) Instances(ctx context.Context, begin, end time.Time, calendarID string) ([]models.Event, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			Comps: []caldav.CalendarCompRequest{{
				Name:     ical.CompEvent,
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: begin,
				End:   end,
			}},
		},
	}
	objects, err := c.caldavClient.QueryCalendar(ctx, calendarID, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar: %w", err)
	}

	var events []models.Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		events = append(events, ics.Events(obj.Data, calendarID, models.EventID(obj.Path), begin, end)...)
	}
	return events, nil
}

// Insert writes a new calendar object and returns its path.
func (c *CalDAVClient) Insert(ctx context.Context, v models.EventValues) (models.EventID, error) {
	uid := ics.GenerateUID()
	objectPath := path.Join(v.CalendarID, uid+".ics")

	obj, err := c.caldavClient.PutCalendarObject(ctx, objectPath, ics.NewCalendar(uid, v))
	if err != nil {
		return "", fmt.Errorf("failed to create event on CalDAV server: %w", err)
	}
	if obj != nil && obj.Path != "" {
		objectPath = obj.Path
	}
	c.logger.Debug("Created CalDAV event", "path", objectPath)
	return models.EventID(objectPath), nil
}

// Update rewrites the patched properties of an existing calendar object.
func (c *CalDAVClient) Update(ctx context.Context, id models.EventID, p models.EventPatch) error {
	objectPath := string(id)
	obj, err := c.caldavClient.GetCalendarObject(ctx, objectPath)
	if err != nil {
		return fmt.Errorf("failed to fetch event %s: %w", objectPath, err)
	}
	if err := ics.ApplyPatch(obj.Data, p); err != nil {
		return fmt.Errorf("event %s: %w", objectPath, err)
	}
	if _, err := c.caldavClient.PutCalendarObject(ctx, objectPath, obj.Data); err != nil {
		return fmt.Errorf("failed to store event %s: %w", objectPath, err)
	}
	return nil
}

// Delete removes the calendar object.
func (c *CalDAVClient) Delete(ctx context.Context, id models.EventID) error {
	objectPath := string(id)
	if !strings.HasSuffix(objectPath, ".ics") {
		return fmt.Errorf("malformed caldav event reference %q", id)
	}
	if err := c.webdavClient.RemoveAll(ctx, objectPath); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", objectPath, err)
	}
	return nil
}

// supportsEvents reports whether the collection accepts VEVENTs. A collection
// that does not advertise its component set accepts all of them.
func supportsEvents(cal caldav.Calendar) bool {
	if len(cal.SupportedComponentSet) == 0 {
		return true
	}
	return slices.Contains(cal.SupportedComponentSet, ical.CompEvent)
}
