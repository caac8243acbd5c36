package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/chatsync/internal/repositories"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultRetention is how long events are kept once every device has
	// observed them.
	DefaultRetention = 30 * 24 * time.Hour
	// DefaultConsolidateThreshold and DefaultConsolidateKeep bound
	// per-entity history: past the threshold only current state plus one
	// prior version is needed for conflict context.
	DefaultConsolidateThreshold = 5
	DefaultConsolidateKeep      = 2
)

type OptimizeSummary struct {
	AccountID          uuid.UUID     `json:"account_id"`
	PurgedEvents       int64         `json:"purged_events"`
	ConsolidatedEvents int64         `json:"consolidated_events"`
	Horizon            time.Time     `json:"horizon,omitzero"`
	Skipped            bool          `json:"skipped"`
	Took               time.Duration `json:"took"`
}

// OptimizerService compacts the event log out-of-band. It never purges an
// event some device has not yet observed: a device that has never synced
// blocks compaction for its whole account.
type OptimizerService struct {
	devices   repositories.DeviceRepository
	events    repositories.SyncEventRepository
	retention time.Duration
	threshold int
	keep      int
	logger    *logrus.Logger
}

func NewOptimizerService(
	devices repositories.DeviceRepository,
	events repositories.SyncEventRepository,
	retention time.Duration,
	logger *logrus.Logger,
) *OptimizerService {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &OptimizerService{
		devices:   devices,
		events:    events,
		retention: retention,
		threshold: DefaultConsolidateThreshold,
		keep:      DefaultConsolidateKeep,
		logger:    logger,
	}
}

func (s *OptimizerService) Optimize(ctx context.Context, accountID uuid.UUID) (*OptimizeSummary, error) {
	start := time.Now()
	summary := &OptimizeSummary{AccountID: accountID}

	oldest, neverSynced, err := s.devices.OldestLastSync(ctx, accountID)
	if err != nil {
		return nil, &RetryableError{Err: err}
	}
	if neverSynced {
		summary.Skipped = true
		summary.Took = time.Since(start)
		return summary, nil
	}

	cutoff := time.Now().Add(-s.retention)
	if oldest.Before(cutoff) {
		cutoff = oldest
	}

	purged, err := s.events.DeleteObservedBefore(ctx, accountID, cutoff)
	if err != nil {
		return nil, &RetryableError{Err: err}
	}
	if err := s.events.SetLogHorizon(ctx, accountID, cutoff); err != nil {
		return nil, &RetryableError{Err: err}
	}

	consolidated, err := s.events.ConsolidateEntities(ctx, accountID, s.threshold, s.keep, oldest)
	if err != nil {
		return nil, &RetryableError{Err: err}
	}

	summary.PurgedEvents = purged
	summary.ConsolidatedEvents = consolidated
	summary.Horizon = cutoff
	summary.Took = time.Since(start)

	s.logger.WithFields(logrus.Fields{
		"account_id":   accountID,
		"purged":       purged,
		"consolidated": consolidated,
		"horizon":      cutoff,
	}).Info("sync log optimized")

	return summary, nil
}

// Run compacts every account with registered devices on a fixed interval
// until the context is cancelled. It runs out-of-band and never blocks
// pull or push traffic.
func (s *OptimizerService) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			accountIDs, err := s.devices.AccountIDs(ctx)
			if err != nil {
				s.logger.WithError(err).Warn("optimizer could not list accounts")
				continue
			}
			for _, accountID := range accountIDs {
				if _, err := s.Optimize(ctx, accountID); err != nil {
					s.logger.WithError(err).WithField("account_id", accountID).Warn("background optimization failed")
				}
			}
		}
	}
}
