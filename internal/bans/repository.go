// Package bans owns the lifecycle of CIDR ban records on top of an abstract
// store. It keeps no state between calls, so a Repository may be shared by any
// number of goroutines.
package bans

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"cidrbans/internal/cidr"
	"cidrbans/internal/domain"
)

// Store is the persistence contract. Multi-row operations are never assumed
// to be transactional.
type Store interface {
	// Insert fails with domain.ErrDuplicateKey when the range already exists.
	Insert(ctx context.Context, ban domain.BanRecord) error
	// DeleteByKey reports whether a row was actually removed.
	DeleteByKey(ctx context.Context, rangeKey string) (bool, error)
	ScanAll(ctx context.Context) ([]domain.BanRecord, error)
}

type Repository struct {
	store  Store
	logger *log.Logger
	now    func() time.Time
}

type Option func(*Repository)

func WithLogger(l *log.Logger) Option {
	return func(r *Repository) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRepository(store Store, opts ...Option) *Repository {
	r := &Repository{
		store:  store,
		logger: log.Default().WithPrefix("bans"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BanOption sets an optional field on a new ban.
type BanOption func(*domain.BanRecord)

func Reason(reason string) BanOption {
	return func(b *domain.BanRecord) { b.Reason = reason }
}

func IssuedBy(actor string) BanOption {
	return func(b *domain.BanRecord) { b.IssuedBy = actor }
}

func IssuedAt(ts string) BanOption {
	return func(b *domain.BanRecord) { b.IssuedAt = ts }
}

func ExpiresAt(ts string) BanOption {
	return func(b *domain.BanRecord) { b.ExpiresAt = ts }
}

// FindByAddress returns the first stored ban, in store scan order, whose range
// contains address. It is not a longest-prefix match. Expired bans are treated
// as absent and deleted along the way. A nil record with a nil error means the
// address is not banned.
func (r *Repository) FindByAddress(ctx context.Context, address string) (*domain.BanRecord, error) {
	addr, err := cidr.ParseAddress(address)
	if err != nil {
		r.logger.Warn("Rejected ban lookup", "address", address, "error", err)
		return nil, err
	}

	records, err := r.scan(ctx, "find by address")
	if err != nil {
		return nil, err
	}

	now := r.now()
	for i := range records {
		ban := records[i]
		if ban.IsExpired(now) {
			r.evict(ctx, ban.Range)
			continue
		}

		rng, ok := r.parseStored(ban.Range)
		if !ok {
			continue
		}
		if cidr.Contains(addr, rng) {
			return &ban, nil
		}
	}

	return nil, nil
}

// ListAll returns every stored record, expired ones included.
func (r *Repository) ListAll(ctx context.Context) ([]domain.BanRecord, error) {
	records, err := r.scan(ctx, "list")
	if err != nil {
		return []domain.BanRecord{}, err
	}
	if records == nil {
		records = []domain.BanRecord{}
	}
	return records, nil
}

// Add validates rangeKey and inserts a new ban. The boolean mirrors err == nil;
// err carries the failure kind (*cidr.FormatError, domain.ErrDuplicateKey or
// domain.ErrStoreUnavailable).
func (r *Repository) Add(ctx context.Context, rangeKey string, opts ...BanOption) (bool, error) {
	key := strings.TrimSpace(rangeKey)
	if _, err := cidr.ParseRange(key); err != nil {
		r.logger.Error("Rejected ban", "range", rangeKey, "error", err)
		return false, err
	}

	ban := domain.BanRecord{Range: key}
	for _, opt := range opts {
		opt(&ban)
	}

	if err := r.store.Insert(ctx, ban); err != nil {
		if !errors.Is(err, domain.ErrDuplicateKey) {
			err = unavailable(err)
		}
		r.logger.Error("Failed to add ban", "range", key, "error", err)
		return false, err
	}

	r.logger.Debug("Ban added", "range", key, "issued_by", ban.IssuedBy, "expires_at", ban.ExpiresAt)
	return true, nil
}

// DeleteByRange removes the ban stored under exactly rangeKey. Deleting a
// range that is not stored returns false with a nil error.
func (r *Repository) DeleteByRange(ctx context.Context, rangeKey string) (bool, error) {
	key := strings.TrimSpace(rangeKey)
	if _, err := cidr.ParseRange(key); err != nil {
		r.logger.Warn("Rejected unban", "range", rangeKey, "error", err)
		return false, err
	}

	removed, err := r.store.DeleteByKey(ctx, key)
	if err != nil {
		err = unavailable(err)
		r.logger.Error("Failed to delete ban", "range", key, "error", err)
		return false, err
	}
	return removed, nil
}

// DeleteAllMatchingAddress deletes every stored range containing address,
// expired or not, and returns the ranges it targeted. Each delete is
// independent; a failed or missed delete is logged and still reported.
func (r *Repository) DeleteAllMatchingAddress(ctx context.Context, address string) ([]string, error) {
	addr, err := cidr.ParseAddress(address)
	if err != nil {
		r.logger.Warn("Rejected bulk unban", "address", address, "error", err)
		return []string{}, err
	}

	records, err := r.scan(ctx, "delete by address")
	if err != nil {
		return []string{}, err
	}

	targets := make([]string, 0)
	for _, ban := range records {
		rng, ok := r.parseStored(ban.Range)
		if !ok {
			continue
		}
		if cidr.Contains(addr, rng) {
			targets = append(targets, ban.Range)
		}
	}

	for _, key := range targets {
		if _, err := r.store.DeleteByKey(ctx, key); err != nil {
			r.logger.Error("Failed to delete matching ban", "range", key, "address", address, "error", err)
		}
	}

	return targets, nil
}

// PurgeExpired deletes every expired ban and returns the ranges it targeted.
func (r *Repository) PurgeExpired(ctx context.Context) ([]string, error) {
	records, err := r.scan(ctx, "purge expired")
	if err != nil {
		return []string{}, err
	}

	now := r.now()
	purged := make([]string, 0)
	for _, ban := range records {
		if !ban.IsExpired(now) {
			continue
		}
		r.evict(ctx, ban.Range)
		purged = append(purged, ban.Range)
	}
	return purged, nil
}

func (r *Repository) scan(ctx context.Context, op string) ([]domain.BanRecord, error) {
	records, err := r.store.ScanAll(ctx)
	if err != nil {
		err = unavailable(err)
		r.logger.Error("Failed to read bans", "op", op, "error", err)
		return nil, err
	}
	return records, nil
}

func (r *Repository) evict(ctx context.Context, key string) {
	removed, err := r.store.DeleteByKey(ctx, key)
	if err != nil {
		r.logger.Error("Failed to evict expired ban", "range", key, "error", err)
		return
	}
	if removed {
		r.logger.Debug("Evicted expired ban", "range", key)
	}
}

func (r *Repository) parseStored(key string) (cidr.Range, bool) {
	rng, err := cidr.ParseRange(key)
	if err != nil {
		r.logger.Warn("Skipping malformed stored ban", "range", key, "error", err)
		return cidr.Range{}, false
	}
	return rng, true
}

func unavailable(err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}
