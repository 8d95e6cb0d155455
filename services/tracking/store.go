package tracking

import (
	"context"
	"time"

	"linktrace/pkg/errutil"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FactStore is the durable write surface of the pipeline. Every put is
// conditional on key absence, which is what makes at-least-once delivery safe.
type FactStore interface {
	PutIfAbsent(ctx context.Context, fact TrackingFact) error
	PutBatch(ctx context.Context, facts []TrackingFact) error
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) FactStore {
	return &gormStore{db: db}
}

var insertIfAbsent = clause.OnConflict{
	Columns:   []clause.Column{{Name: "tracking_id"}},
	DoNothing: true,
}

func (s *gormStore) PutIfAbsent(ctx context.Context, fact TrackingFact) error {
	err := s.db.WithContext(ctx).
		Clauses(insertIfAbsent).
		Create(&fact).Error
	if err != nil {
		return errutil.ClassifyStore("failed to persist tracking fact", err)
	}
	return nil
}

// PutBatch inserts one sub-batch in a single statement. The caller owns the
// sub-batch ceiling; a failure here fails the whole sub-batch.
func (s *gormStore) PutBatch(ctx context.Context, facts []TrackingFact) error {
	if len(facts) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).
		Clauses(insertIfAbsent).
		Create(&facts).Error
	if err != nil {
		return errutil.ClassifyStore("failed to persist tracking fact batch", err)
	}
	return nil
}

func (s *gormStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("ttl > 0 AND ttl < ?", before.Unix()).
		Delete(&TrackingFact{})
	if res.Error != nil {
		return 0, errutil.ClassifyStore("failed to purge expired facts", res.Error)
	}
	return res.RowsAffected, nil
}
