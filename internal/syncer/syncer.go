package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"negosync/internal/calendar"
	"negosync/internal/models"
	"negosync/internal/store"
)

// Result holds counters for a reconciliation pass.
type Result struct {
	Created int
	Updated int
	Deleted int
	Skipped int
	Errors  int
}

// Syncer pushes negotiation schedules from the repository into the
// external calendar.
type Syncer struct {
	logger  *slog.Logger
	repo    store.Repository
	adapter *calendar.Adapter
	dryRun  bool
}

// NewSyncer creates a new Syncer.
func NewSyncer(logger *slog.Logger, repo store.Repository, adapter *calendar.Adapter, dryRun bool) *Syncer {
	return &Syncer{
		logger:  logger,
		repo:    repo,
		adapter: adapter,
		dryRun:  dryRun,
	}
}

// Reconcile performs a full pass over the repository. Failures on a single
// record are logged and counted; the pass continues with the next record.
func (s *Syncer) Reconcile(ctx context.Context) (Result, error) {
	var result Result
	s.logger.Info("Starting sync cycle.")

	negotiations, err := s.repo.List(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list negotiations: %w", err)
	}

	var (
		account  *models.CalendarAccount
		resolved bool
	)
	for _, n := range negotiations {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		interval, scheduled := n.TimeInterval()
		wanted := scheduled && !n.IsDraft && !n.IsArchived

		var (
			err    error
			create bool
		)
		switch {
		case !wanted && n.Synced():
			err = s.remove(ctx, n)
			if err == nil {
				result.Deleted++
			}
		case !wanted:
			result.Skipped++
		case n.Synced():
			var gone bool
			gone, err = s.update(ctx, n, interval)
			switch {
			case err != nil:
			case gone:
				create = true
			default:
				result.Updated++
			}
		default:
			create = true
		}

		if create {
			if !resolved {
				account, err = s.adapter.ResolveDefaultAccount(ctx)
				if err != nil {
					return result, fmt.Errorf("failed to resolve calendar account: %w", err)
				}
				resolved = true
			}

			var created bool
			created, err = s.create(ctx, n, interval, account)
			if err == nil && created {
				result.Created++
			} else if err == nil {
				result.Skipped++
			}
		}
		if err != nil {
			s.logger.Error("Failed to sync negotiation", "id", n.ID, "name", n.Name, "error", err)
			result.Errors++
		}
	}

	s.logger.Info("Sync cycle finished.",
		"created", result.Created, "updated", result.Updated, "deleted", result.Deleted,
		"skipped", result.Skipped, "errors", result.Errors)
	return result, nil
}

// Push creates or updates the calendar event of a single record and stores
// the resulting reference. It reports false when no account could be resolved.
func (s *Syncer) Push(ctx context.Context, n *models.Negotiation) (bool, error) {
	interval, ok := n.TimeInterval()
	if !ok {
		return false, fmt.Errorf("negotiation %s has no date: %w", n.ID, calendar.ErrInvalidArgument)
	}
	if n.Synced() {
		gone, err := s.update(ctx, n, interval)
		if err != nil || !gone {
			return err == nil, err
		}
	}
	account, err := s.adapter.ResolveDefaultAccount(ctx)
	if err != nil {
		return false, err
	}
	return s.create(ctx, n, interval, account)
}

// Remove deletes the calendar event of a single record and clears its reference.
func (s *Syncer) Remove(ctx context.Context, n *models.Negotiation) error {
	return s.remove(ctx, n)
}

func (s *Syncer) create(ctx context.Context, n *models.Negotiation, interval models.Interval, account *models.CalendarAccount) (bool, error) {
	if account == nil {
		s.logger.Warn("No calendar account, negotiation not synced.", "id", n.ID)
		return false, nil
	}
	if s.dryRun {
		s.logger.Info("[DRY RUN] Would create calendar event", "id", n.ID, "name", n.Name, "start", interval.Start)
		return true, nil
	}

	eventID, err := s.adapter.CreateEvent(ctx, n, interval, account)
	if err != nil {
		return false, err
	}
	n.CalendarEventID = eventID
	if err := s.repo.Save(ctx, n); err != nil {
		return false, fmt.Errorf("event %s created but negotiation not saved: %w", eventID, err)
	}
	return true, nil
}

// update patches the record's event. When the event was deleted outside
// negosync the stale reference is cleared and saved, and gone is true so the
// caller can create a fresh event.
func (s *Syncer) update(ctx context.Context, n *models.Negotiation, interval models.Interval) (gone bool, err error) {
	if s.dryRun {
		s.logger.Info("[DRY RUN] Would update calendar event", "id", n.ID, "event", n.CalendarEventID, "start", interval.Start)
		return false, nil
	}
	err = s.adapter.UpdateEvent(ctx, n, interval)
	if !errors.Is(err, calendar.ErrEventNotFound) {
		return false, err
	}
	s.logger.Warn("Calendar event no longer exists, dropping reference.", "id", n.ID, "event", n.CalendarEventID)
	n.CalendarEventID = ""
	if err := s.repo.Save(ctx, n); err != nil {
		return false, fmt.Errorf("failed to clear stale event reference: %w", err)
	}
	return true, nil
}

// remove deletes the record's event and clears the reference. An event that
// is already gone counts as deleted.
func (s *Syncer) remove(ctx context.Context, n *models.Negotiation) error {
	if s.dryRun {
		s.logger.Info("[DRY RUN] Would delete calendar event", "id", n.ID, "event", n.CalendarEventID)
		return nil
	}
	err := s.adapter.DeleteEvent(ctx, n)
	switch {
	case errors.Is(err, calendar.ErrEventNotFound):
		s.logger.Warn("Calendar event already gone.", "id", n.ID, "event", n.CalendarEventID)
	case err != nil:
		return err
	}
	n.CalendarEventID = ""
	if err := s.repo.Save(ctx, n); err != nil {
		return fmt.Errorf("event deleted but negotiation not saved: %w", err)
	}
	return nil
}
