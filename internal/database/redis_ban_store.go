package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cidrbans/internal/domain"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const defaultBansHashKey = "cidrbans:bans"

// RedisBanStore keeps every ban as a JSON value in a single hash keyed by range.
type RedisBanStore struct {
	client    redis.Cmdable
	key       string
	opTimeout time.Duration
}

// NewRedisBanStore stores bans under hashKey (default "cidrbans:bans").
func NewRedisBanStore(client redis.Cmdable, hashKey string) *RedisBanStore {
	if hashKey == "" {
		hashKey = defaultBansHashKey
	}
	return &RedisBanStore{client: client, key: hashKey, opTimeout: resolveOpTimeout()}
}

func (s *RedisBanStore) Insert(ctx context.Context, ban domain.BanRecord) error {
	ctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	payload, err := json.Marshal(ban)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", domain.ErrStoreUnavailable, ban.Range, err)
	}

	created, err := s.client.HSetNX(ctx, s.key, ban.Range, payload).Result()
	if err != nil {
		return fmt.Errorf("%w: insert %s: %w", domain.ErrStoreUnavailable, ban.Range, err)
	}
	if !created {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateKey, ban.Range)
	}
	return nil
}

func (s *RedisBanStore) DeleteByKey(ctx context.Context, rangeKey string) (bool, error) {
	ctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()

	removed, err := s.client.HDel(ctx, s.key, rangeKey).Result()
	if err != nil {
		return false, fmt.Errorf("%w: delete %s: %w", domain.ErrStoreUnavailable, rangeKey, err)
	}
	return removed > 0, nil
}

func (s *RedisBanStore) ScanAll(ctx context.Context) ([]domain.BanRecord, error) {
	ctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: scan: %w", domain.ErrStoreUnavailable, err)
	}
	return decodeBanHash(raw), nil
}

func (s *RedisBanStore) opContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if s == nil || s.client == nil {
		return nil, nil, fmt.Errorf("%w: redis client not initialised", domain.ErrStoreUnavailable)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	return opCtx, cancel, nil
}

// decodeBanHash skips fields whose value is not a ban record so one bad
// entry cannot hide the rest.
func decodeBanHash(raw map[string]string) []domain.BanRecord {
	bans := make([]domain.BanRecord, 0, len(raw))
	for field, value := range raw {
		var ban domain.BanRecord
		if err := json.Unmarshal([]byte(value), &ban); err != nil {
			log.Warn("Skipping undecodable ban entry", "range", field, "error", err)
			continue
		}
		// the hash field is authoritative for the key
		ban.Range = field
		bans = append(bans, ban)
	}
	return bans
}
