package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cidrbans/internal/domain"
	"cidrbans/internal/support"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultOpTimeout = 5 * time.Second

// BanStore persists ban records in a SQL table through gorm.
type BanStore struct {
	db        *gorm.DB
	opTimeout time.Duration
}

// NewBanStore wraps db. Every call is bounded by DB_OP_TIMEOUT_SECONDS.
func NewBanStore(db *gorm.DB) *BanStore {
	return &BanStore{db: db, opTimeout: resolveOpTimeout()}
}

func resolveOpTimeout() time.Duration {
	seconds := support.GetEnvInt("DB_OP_TIMEOUT_SECONDS", int(defaultOpTimeout/time.Second))
	if seconds <= 0 {
		return defaultOpTimeout
	}
	return time.Duration(seconds) * time.Second
}

func (s *BanStore) Insert(ctx context.Context, ban domain.BanRecord) error {
	db, cancel, err := s.session(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	if err := db.Create(&ban).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateKey, ban.Range)
		}
		return fmt.Errorf("%w: insert %s: %w", domain.ErrStoreUnavailable, ban.Range, err)
	}
	return nil
}

func (s *BanStore) DeleteByKey(ctx context.Context, rangeKey string) (bool, error) {
	db, cancel, err := s.session(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()

	result := db.
		Where(clause.Eq{Column: clause.Column{Name: "range"}, Value: rangeKey}).
		Delete(&domain.BanRecord{})
	if result.Error != nil {
		return false, fmt.Errorf("%w: delete %s: %w", domain.ErrStoreUnavailable, rangeKey, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *BanStore) ScanAll(ctx context.Context) ([]domain.BanRecord, error) {
	db, cancel, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var bans []domain.BanRecord
	if err := db.Find(&bans).Error; err != nil {
		return nil, fmt.Errorf("%w: scan: %w", domain.ErrStoreUnavailable, err)
	}
	return bans, nil
}

func (s *BanStore) session(ctx context.Context) (*gorm.DB, context.CancelFunc, error) {
	if s == nil || s.db == nil {
		return nil, nil, fmt.Errorf("%w: database not initialised", domain.ErrStoreUnavailable)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	return s.db.WithContext(opCtx), cancel, nil
}

// isDuplicateKey recognises gorm's translated error and, for handles opened
// without TranslateError, the raw driver messages.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}
