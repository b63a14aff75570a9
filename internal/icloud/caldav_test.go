package icloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	calsync "negosync/internal/calendar"
	"negosync/internal/models"
)

func newTestClient(t *testing.T, endpoint string) *CalDAVClient {
	t.Helper()
	c, err := NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), Options{
		Endpoint: endpoint,
		Username: "ann@icloud.com",
		Password: "app-password",
		TimeZone: "Europe/Berlin",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestAccounts(t *testing.T) {
	c := newTestClient(t, DefaultEndpoint)

	accs, err := c.Accounts(context.Background(), AccountType)
	if err != nil || len(accs) != 1 || accs[0] != "ann@icloud.com" {
		t.Errorf("Accounts(caldav) = %v, %v", accs, err)
	}
	accs, _ = c.Accounts(context.Background(), calsync.GoogleAccountType)
	if len(accs) != 0 {
		t.Errorf("Accounts(google) = %v, want none", accs)
	}
}

func TestCalendarsForeignAccountSkipsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL+"/")

	cals, err := c.Calendars(context.Background(), calsync.CalendarQuery{
		AccountName:  "bob@icloud.com",
		AccountType:  AccountType,
		OwnerAccount: "bob@icloud.com",
	})
	if err != nil || len(cals) != 0 {
		t.Errorf("Calendars = %v, %v; want none", cals, err)
	}
}

func TestTransportAddsCredentials(t *testing.T) {
	var gotUser, gotPass, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		gotAgent = r.UserAgent()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL+"/")

	if err := c.Delete(context.Background(), "/calendars/work/abc.ics"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if gotUser != "ann@icloud.com" || gotPass != "app-password" {
		t.Errorf("basic auth = %q/%q", gotUser, gotPass)
	}
	if gotAgent != "negosync/1.0" {
		t.Errorf("User-Agent = %q", gotAgent)
	}
}

func TestDeleteRejectsMalformedReference(t *testing.T) {
	c := newTestClient(t, DefaultEndpoint)
	if err := c.Delete(context.Background(), "primary/abc"); err == nil {
		t.Error("expected error for non-caldav reference")
	}
}

const davHeader = `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">`

const recurring = "BEGIN:VCALENDAR\n" +
	"VERSION:2.0\n" +
	"PRODID:-//test//EN\n" +
	"BEGIN:VEVENT\n" +
	"UID:standup\n" +
	"DTSTAMP:20240101T000000Z\n" +
	"DTSTART;TZID=Europe/Berlin:20240304T100000\n" +
	"DTEND;TZID=Europe/Berlin:20240304T110000\n" +
	"RRULE:FREQ=WEEKLY;COUNT=10\n" +
	"EXDATE;TZID=Europe/Berlin:20240318T100000\n" +
	"SUMMARY:Standup\n" +
	"END:VEVENT\n" +
	"BEGIN:VEVENT\n" +
	"UID:standup\n" +
	"DTSTAMP:20240101T000000Z\n" +
	"RECURRENCE-ID;TZID=Europe/Berlin:20240311T100000\n" +
	"DTSTART;TZID=Europe/Berlin:20240311T140000\n" +
	"DTEND;TZID=Europe/Berlin:20240311T150000\n" +
	"SUMMARY:Standup (moved)\n" +
	"END:VEVENT\n" +
	"END:VCALENDAR\n"

const single = "BEGIN:VCALENDAR\n" +
	"VERSION:2.0\n" +
	"PRODID:-//test//EN\n" +
	"BEGIN:VEVENT\n" +
	"UID:lease\n" +
	"DTSTAMP:20240101T000000Z\n" +
	"DTSTART:20240201T143000Z\n" +
	"DTEND:20240201T153000Z\n" +
	"SUMMARY:Lease renewal\n" +
	"TRANSP:OPAQUE\n" +
	"END:VEVENT\n" +
	"END:VCALENDAR\n"

// davServer fakes the subset of an iCloud-like CalDAV server the client uses.
type davServer struct {
	t       *testing.T
	objects map[string]string
	puts    map[string]string
	reports []string
}

func newDAVServer(t *testing.T) (*davServer, *CalDAVClient) {
	t.Helper()
	d := &davServer{t: t, objects: map[string]string{
		"/calendars/ann/work/standup.ics": recurring,
		"/calendars/ann/work/lease.ics":   single,
	}, puts: map[string]string{}}
	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)
	return d, newTestClient(t, srv.URL+"/")
}

func (d *davServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	switch {
	case r.Method == "PROPFIND" && r.URL.Path == "/":
		d.multistatus(w, `<d:response><d:href>/</d:href><d:propstat><d:prop>
<d:current-user-principal><d:href>/principals/ann/</d:href></d:current-user-principal>
</d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>`)
	case r.Method == "PROPFIND" && r.URL.Path == "/principals/ann/":
		d.multistatus(w, `<d:response><d:href>/principals/ann/</d:href><d:propstat><d:prop>
<c:calendar-home-set><d:href>/calendars/ann/</d:href></c:calendar-home-set>
</d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>`)
	case r.Method == "PROPFIND" && r.URL.Path == "/calendars/ann/":
		if r.Header.Get("Depth") != "1" {
			d.t.Errorf("calendar listing Depth = %q", r.Header.Get("Depth"))
		}
		d.multistatus(w, collection("/calendars/ann/", "", "")+
			collection("/calendars/ann/reminders/", "Reminders", `<c:comp name="VTODO"/>`)+
			collection("/calendars/ann/work/", "Work", `<c:comp name="VEVENT"/><c:comp name="VTODO"/>`)+
			collection("/calendars/ann/shared/", "Shared", ""))
	case r.Method == "REPORT" && r.URL.Path == "/calendars/ann/work/":
		d.reports = append(d.reports, string(body))
		var sb strings.Builder
		for _, p := range []string{"/calendars/ann/work/lease.ics", "/calendars/ann/work/standup.ics"} {
			fmt.Fprintf(&sb, `<d:response><d:href>%s</d:href><d:propstat><d:prop><c:calendar-data>%s</c:calendar-data></d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>`, p, d.objects[p])
		}
		d.multistatus(w, sb.String())
	case r.Method == http.MethodGet:
		data, ok := d.objects[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		_, _ = io.WriteString(w, data)
	case r.Method == http.MethodPut:
		d.puts[r.URL.Path] = string(body)
		d.objects[r.URL.Path] = string(body)
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodDelete:
		if _, ok := d.objects[r.URL.Path]; !ok {
			http.NotFound(w, r)
			return
		}
		delete(d.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusMethodNotAllowed)
	}
}

func (d *davServer) multistatus(w http.ResponseWriter, responses string) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)
	_, _ = io.WriteString(w, davHeader+responses+"</d:multistatus>")
}

// collection renders a PROPFIND response entry. An empty name marks a plain
// collection rather than a calendar.
func collection(href, name, comps string) string {
	resType := "<d:collection/>"
	props := ""
	if name != "" {
		resType += "<c:calendar/>"
		props = "<d:displayname>" + name + "</d:displayname>"
	}
	if comps != "" {
		props += "<c:supported-calendar-component-set>" + comps + "</c:supported-calendar-component-set>"
	}
	return `<d:response><d:href>` + href + `</d:href><d:propstat><d:prop><d:resourcetype>` + resType +
		`</d:resourcetype>` + props + `</d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>`
}

func TestCalendarsSkipsTaskLists(t *testing.T) {
	_, c := newDAVServer(t)

	cals, err := c.Calendars(context.Background(), calsync.CalendarQuery{
		AccountName:  "ann@icloud.com",
		AccountType:  AccountType,
		OwnerAccount: "ann@icloud.com",
	})
	if err != nil {
		t.Fatalf("Calendars: %v", err)
	}
	var names []string
	for _, cal := range cals {
		names = append(names, cal.Name)
		if cal.TimeZone != "Europe/Berlin" || cal.OwnerAccount != "ann@icloud.com" {
			t.Errorf("calendar = %+v", cal)
		}
	}
	if strings.Join(names, ",") != "Work,Shared" {
		t.Errorf("calendars = %v, want Work,Shared", names)
	}
	if cals[0].ID != "/calendars/ann/work/" {
		t.Errorf("ID = %q", cals[0].ID)
	}
}

func TestCalendarsByName(t *testing.T) {
	_, c := newDAVServer(t)
	c.opts.CalendarName = "Shared"

	cals, err := c.Calendars(context.Background(), calsync.CalendarQuery{})
	if err != nil {
		t.Fatalf("Calendars: %v", err)
	}
	if len(cals) != 1 || cals[0].ID != "/calendars/ann/shared/" {
		t.Errorf("calendars = %+v", cals)
	}
}

func TestInstancesExpandsRecurrences(t *testing.T) {
	d, c := newDAVServer(t)
	begin := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	events, err := c.Instances(context.Background(), begin, end, "/calendars/ann/work/")
	if err != nil {
		t.Fatalf("Instances: %v", err)
	}
	if len(d.reports) != 1 || !strings.Contains(d.reports[0], "time-range") {
		t.Errorf("REPORT bodies = %v", d.reports)
	}

	got := map[string]string{}
	for _, e := range events {
		got[e.StartTime.Format(time.RFC3339)] = e.Title
		if e.ID != "/calendars/ann/work/standup.ics" {
			t.Errorf("event outside the window or wrong ref: %+v", e)
		}
	}
	want := map[string]string{
		"2024-03-04T09:00:00Z": "Standup",
		"2024-03-11T13:00:00Z": "Standup (moved)",
		"2024-03-25T09:00:00Z": "Standup",
	}
	if len(got) != len(want) || len(events) != len(want) {
		t.Fatalf("occurrences = %v, want %v", got, want)
	}
	for start, title := range want {
		if got[start] != title {
			t.Errorf("occurrence %s = %q, want %q", start, got[start], title)
		}
	}
}

func TestInsertPutsObject(t *testing.T) {
	d, c := newDAVServer(t)
	start := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

	id, err := c.Insert(context.Background(), models.EventValues{
		Start:        start,
		End:          start.Add(time.Hour),
		Title:        "Lease renewal",
		CalendarID:   "/calendars/ann/work/",
		TimeZone:     "Europe/Berlin",
		Availability: models.AvailabilityBusy,
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !strings.HasPrefix(string(id), "/calendars/ann/work/") || !strings.HasSuffix(string(id), ".ics") {
		t.Errorf("id = %q", id)
	}
	body := d.puts[string(id)]
	for _, want := range []string{"SUMMARY:Lease renewal", "TRANSP:OPAQUE", "DTSTART;TZID=Europe/Berlin:20240301T153000"} {
		if !strings.Contains(body, want) {
			t.Errorf("PUT body missing %q:\n%s", want, body)
		}
	}
}

func TestUpdateNormalizesUnnamedZone(t *testing.T) {
	d, c := newDAVServer(t)
	const ref = "/calendars/ann/work/lease.ics"
	// A time decoded from JSON with a non-local offset carries an unnamed zone.
	start := time.Date(2024, 3, 1, 15, 30, 0, 0, time.FixedZone("", 3600))

	err := c.Update(context.Background(), ref, models.EventPatch{
		Start: start,
		End:   start.Add(time.Hour),
		Title: "Lease renewal (moved)",
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	body := d.puts[ref]
	if !strings.Contains(body, "DTSTART:20240301T143000Z") || strings.Contains(body, "TZID") {
		t.Errorf("PUT body times not in UTC:\n%s", body)
	}
	if !strings.Contains(body, "SUMMARY:Lease renewal (moved)") || !strings.Contains(body, "TRANSP:OPAQUE") {
		t.Errorf("PUT body = %s", body)
	}
}

func TestMissingObjectsMapToNotFound(t *testing.T) {
	_, c := newDAVServer(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

	err := c.Update(ctx, "/calendars/ann/work/gone.ics", models.EventPatch{Start: start, End: start.Add(time.Hour)})
	if !errors.Is(err, calsync.ErrEventNotFound) {
		t.Errorf("Update err = %v, want ErrEventNotFound", err)
	}
	if err := c.Delete(ctx, "/calendars/ann/work/gone.ics"); !errors.Is(err, calsync.ErrEventNotFound) {
		t.Errorf("Delete err = %v, want ErrEventNotFound", err)
	}
	if err := c.Delete(ctx, "/calendars/ann/work/lease.ics"); err != nil {
		t.Errorf("Delete existing: %v", err)
	}
}
