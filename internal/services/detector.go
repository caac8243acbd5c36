package services

import (
	"context"
	"time"

	"github.com/prudhvinik1/chatsync/internal/models"
	"github.com/prudhvinik1/chatsync/internal/repositories"
)

// DefaultConflictWindow is how far on each side of an event's timestamp
// the detector looks for competing writes. Wider windows surface more
// false positives (noisy but safe); narrower windows risk missing
// genuinely concurrent edits.
const DefaultConflictWindow = 60 * time.Second

// ConflictStrategy decides which already-committed events compete with a
// candidate. The shipped implementation is a time-window heuristic, not a
// causality test; a vector-clock strategy could be swapped in here.
type ConflictStrategy interface {
	Detect(ctx context.Context, event *models.SyncEvent) ([]*models.SyncEvent, error)
}

// Compile-time check.
var _ ConflictStrategy = (*TimeWindowDetector)(nil)

type TimeWindowDetector struct {
	events repositories.SyncEventRepository
	window time.Duration
}

func NewTimeWindowDetector(events repositories.SyncEventRepository, window time.Duration) *TimeWindowDetector {
	if window <= 0 {
		window = DefaultConflictWindow
	}
	return &TimeWindowDetector{events: events, window: window}
}

// Detect returns committed events for the same entity within the window
// around the candidate's timestamp, from devices other than the
// candidate's. A non-empty result means the candidate is conflicting;
// no winner is ever picked automatically.
func (d *TimeWindowDetector) Detect(ctx context.Context, event *models.SyncEvent) ([]*models.SyncEvent, error) {
	return d.events.Near(ctx, event.AccountID, event.EntityType, event.EntityID, event.Timestamp, d.window, event.DeviceID)
}
