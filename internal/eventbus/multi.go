package eventbus

import (
	"context"
	"errors"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

// Multi publishes to every sink. A failing sink does not stop the others;
// their errors are joined.
type Multi []model.TriggerPublisher

func (m Multi) PublishTrigger(ctx context.Context, ev model.TriggerEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishTrigger(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
