package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prudhvinik1/chatsync/internal/models"
	"github.com/prudhvinik1/chatsync/internal/repositories"
)

var (
	ErrDeviceNotFound       = errors.New("device not found")
	ErrDeviceNotOwned       = errors.New("device does not belong to account")
	ErrConflictNotFound     = errors.New("conflict not found")
	ErrConflictResolved     = errors.New("conflict already resolved")
	ErrBatchTooLarge        = errors.New("batch exceeds maximum size")
	ErrInvalidStrategy      = errors.New("unknown resolution strategy")
	ErrMergePayloadRequired = errors.New("merge resolution requires a merged payload")
)

// RetryableError marks a failure caused by the underlying store rather
// than the request, so callers know to back off and retry.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("transient store error: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// authorizeDevice resolves a device and verifies account ownership.
// Unknown and foreign devices are indistinguishable to the caller.
func authorizeDevice(ctx context.Context, devices repositories.DeviceRepository, accountID, deviceID uuid.UUID) (*models.Device, error) {
	device, err := devices.GetByID(ctx, deviceID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, &RetryableError{Err: err}
	}
	if device.AccountID != accountID {
		return nil, ErrDeviceNotOwned
	}
	return device, nil
}
