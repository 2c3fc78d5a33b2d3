package storage

import (
	"context"
	"errors"

	"FreshnessTracker/internal/domain"
	"FreshnessTracker/internal/ports"
)

// MultiSink writes each batch to every configured sink.
type MultiSink []ports.ReadingSink

var _ ports.ReadingSink = MultiSink(nil)

func (m MultiSink) InsertBatch(ctx context.Context, rows []domain.Row) error {
	var errs []error
	for _, sink := range m {
		if err := sink.InsertBatch(ctx, rows); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
