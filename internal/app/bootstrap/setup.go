package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"cidrbans/internal/bans"
	"cidrbans/internal/blacklist"
	"cidrbans/internal/config"
	"cidrbans/internal/database"
	"cidrbans/internal/jobs/maintenance"
	"cidrbans/internal/moderation"
	"cidrbans/internal/support"
)

// Services is everything the commands and the API need, built once per process.
type Services struct {
	Repository *bans.Repository
	Moderation *moderation.Service
	Gate       *moderation.Gate
	Cleanup    *maintenance.ExpiredBanCleanup
	Importer   *blacklist.Importer

	// Redis is nil unless REDIS_URL is set.
	Redis redis.UniversalClient

	closers []func() error
}

// Setup loads settings, connects the configured store and wires the services.
func Setup(ctx context.Context) (*Services, error) {
	if err := config.ReadSettings(); err != nil {
		log.Error("Failed to load settings, using defaults", "error", err)
	}

	s := &Services{}

	storageType := database.StorageType()
	if support.RedisConfigured() || storageType == database.StorageRedis {
		client, err := support.GetRedisClient()
		switch {
		case err == nil:
			s.Redis = client
			s.closers = append(s.closers, support.CloseRedisClient)
		case storageType == database.StorageRedis:
			return nil, fmt.Errorf("bootstrap: redis ban store: %w", err)
		default:
			log.Warn("Redis unavailable, running without leader election or settings sync", "error", err)
		}
	}

	store, err := s.openStore(storageType)
	if err != nil {
		s.Close()
		return nil, err
	}

	if s.Redis != nil {
		config.EnableRedisSynchronization(ctx, s.Redis)
	}

	s.Repository = bans.NewRepository(store)
	s.Moderation = moderation.NewService(s.Repository,
		moderation.WithSettings(
			func() string { return config.GetConfig().DefaultReason },
			func() int { return config.GetConfig().PageSize },
		),
	)
	s.Gate = moderation.NewGate(s.Repository,
		moderation.WithEnabled(func() bool { return config.GetConfig().EnableIPBans }),
	)

	s.Importer = blacklist.NewImporter(s.Moderation)

	s.Cleanup, err = maintenance.NewExpiredBanCleanup(s.Repository, CleanupSchedule())
	if err != nil {
		s.Close()
		return nil, err
	}

	log.Debug("Services ready", "storage", storageType)
	return s, nil
}

func (s *Services) openStore(storageType string) (bans.Store, error) {
	if storageType == database.StorageRedis {
		return database.NewRedisBanStore(s.Redis, support.GetEnv("REDIS_BANS_KEY", "")), nil
	}

	db, err := database.SetupDB()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: failed to set up database: %w", err)
	}
	s.closers = append(s.closers, func() error { return database.Close(db) })
	return database.NewBanStore(db), nil
}

// CleanupSchedule prefers CLEANUP_SCHEDULE over the settings file.
func CleanupSchedule() string {
	if raw := strings.TrimSpace(support.GetEnv("CLEANUP_SCHEDULE", "")); raw != "" {
		return raw
	}
	return config.GetConfig().CleanupSchedule
}

// Close releases connections in reverse order of opening.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
