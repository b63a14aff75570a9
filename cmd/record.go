package main

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"negosync/internal/models"
)

// recordFlags are the editable negotiation fields shared by `new` and `edit`.
func recordFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "name"},
		&cli.StringFlag{Name: "date", Usage: "Day of the negotiation (YYYY-MM-DD)."},
		&cli.StringFlag{Name: "time", Usage: "Start time (HH:MM)."},
		&cli.StringFlag{Name: "location"},
		&cli.StringFlag{Name: "info"},
		&cli.BoolFlag{Name: "draft", Usage: "Keep the record as a draft; drafts are not synced."},
	}
}

// recordEdit holds the fields given on the command line. Nil fields are left
// untouched.
type recordEdit struct {
	Name      *string
	Date      *string
	Time      *string
	Location  *string
	Info      *string
	Draft     *bool
	Archived  *bool
	Completed *bool
	ClearDate bool
	ClearTime bool
}

func editFromFlags(c *cli.Context) recordEdit {
	str := func(name string) *string {
		if !c.IsSet(name) {
			return nil
		}
		s := c.String(name)
		return &s
	}
	flag := func(name string) *bool {
		if !c.IsSet(name) {
			return nil
		}
		b := c.Bool(name)
		return &b
	}
	return recordEdit{
		Name:      str("name"),
		Date:      str("date"),
		Time:      str("time"),
		Location:  str("location"),
		Info:      str("info"),
		Draft:     flag("draft"),
		Archived:  flag("archived"),
		Completed: flag("completed"),
		ClearDate: c.Bool("clear-date"),
		ClearTime: c.Bool("clear-time"),
	}
}

// apply writes the edit onto n. Date and time are parsed in loc. Nothing is
// changed when a value fails to parse.
func (r recordEdit) apply(n *models.Negotiation, loc *time.Location) error {
	var date, clock *time.Time
	if r.Date != nil && *r.Date != "" {
		d, err := time.ParseInLocation(time.DateOnly, *r.Date, loc)
		if err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
		date = &d
	}
	if r.Time != nil && *r.Time != "" {
		t, err := time.ParseInLocation("15:04", *r.Time, loc)
		if err != nil {
			return fmt.Errorf("invalid --time: %w", err)
		}
		clock = &t
	}

	if r.Name != nil {
		n.Name = *r.Name
	}
	if r.Location != nil {
		n.Location = *r.Location
	}
	if r.Info != nil {
		n.Info = *r.Info
	}
	if r.Draft != nil {
		n.IsDraft = *r.Draft
	}
	if r.Archived != nil {
		n.IsArchived = *r.Archived
	}
	if r.Completed != nil {
		n.IsCompleted = *r.Completed
	}
	if r.ClearDate {
		n.Date, n.Time = nil, nil
	}
	if r.ClearTime {
		n.Time = nil
	}
	if date != nil {
		n.Date = date
	}
	if clock != nil {
		n.Time = clock
	}
	return nil
}

// listRecords writes one line per negotiation, dated records first in
// chronological order. Archived records are skipped unless archived is set.
func listRecords(w io.Writer, records []*models.Negotiation, loc *time.Location, archived bool) {
	records = slices.DeleteFunc(slices.Clone(records), func(n *models.Negotiation) bool {
		return n.IsArchived && !archived
	})
	slices.SortStableFunc(records, func(a, b *models.Negotiation) int {
		ia, oka := a.TimeInterval()
		ib, okb := b.TimeInterval()
		switch {
		case oka && okb:
			return ia.Start.Compare(ib.Start)
		case oka:
			return -1
		case okb:
			return 1
		}
		return cmp.Compare(a.Name, b.Name)
	})
	for _, n := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.ID, when(n, loc), n.Name, strings.Join(states(n), ","))
	}
}

func when(n *models.Negotiation, loc *time.Location) string {
	if start, ok := n.CombinedDate(); ok {
		return start.In(loc).Format("2006-01-02 15:04")
	}
	if n.Date != nil {
		return n.Date.Format(time.DateOnly)
	}
	return "-"
}

func states(n *models.Negotiation) []string {
	var out []string
	if n.IsDraft {
		out = append(out, "draft")
	}
	if n.IsArchived {
		out = append(out, "archived")
	}
	if n.IsCompleted {
		out = append(out, "completed")
	}
	if n.Synced() {
		out = append(out, "synced")
	}
	return out
}
