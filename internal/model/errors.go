package model

import (
	"errors"
	"fmt"
)

// Error taxonomy. Wrap with fmt.Errorf("%w: ...") and classify with errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrDataSource   = errors.New("data source error")
	ErrCompute      = errors.New("compute error")
	ErrDispatch     = errors.New("dispatch error")
)

// Validationf returns an ErrValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound returns an ErrNotFound naming the missing entity.
func NotFound(entity, id string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, entity, id)
}

// DataSourceError wraps a market-data failure for one symbol/timeframe.
func DataSourceError(symbol string, tf Timeframe, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrDataSource, symbol, tf, err)
}

// ComputeError wraps an indicator or comparison failure for one condition.
func ComputeError(conditionID string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCompute, conditionID, err)
}

// DispatchError wraps a delivery failure for one subscription.
func DispatchError(subscriptionID string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDispatch, subscriptionID, err)
}
