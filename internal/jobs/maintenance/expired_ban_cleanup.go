package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"cidrbans/internal/support"
)

const (
	DefaultCleanupSchedule = "*/1 * * * *"

	expiredBanCleanupLock = "ban_cleanup"
	sweepKey              = "purge"
)

// Purger deletes expired bans and reports the ranges it targeted.
type Purger interface {
	PurgeExpired(ctx context.Context) ([]string, error)
}

// ExpiredBanCleanup removes expired bans on a cron schedule. Sweeps that
// overlap, scheduled or manual, share a single PurgeExpired call.
type ExpiredBanCleanup struct {
	purger   Purger
	schedule cron.Schedule
	expr     string
	group    singleflight.Group
	logger   *log.Logger
}

// NewExpiredBanCleanup validates expr, a five-field cron expression or a
// descriptor such as "@every 5m".
func NewExpiredBanCleanup(purger Purger, expr string) (*ExpiredBanCleanup, error) {
	if purger == nil {
		return nil, errors.New("maintenance: purger cannot be nil")
	}

	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = DefaultCleanupSchedule
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("maintenance: invalid cleanup schedule %q: %w", expr, err)
	}

	return &ExpiredBanCleanup{
		purger:   purger,
		schedule: schedule,
		expr:     expr,
		logger:   log.Default().WithPrefix("cleanup"),
	}, nil
}

// StartExpiredBanCleanup runs the sweeper until ctx is done. With a redis
// client only the instance holding the leader lock sweeps.
func StartExpiredBanCleanup(ctx context.Context, cleanup *ExpiredBanCleanup, client redis.UniversalClient) {
	if ctx == nil {
		ctx = context.Background()
	}

	if client == nil {
		cleanup.Run(ctx)
		return
	}

	err := support.RunWithLeader(ctx, client, support.LeaderKey(expiredBanCleanupLock), support.DefaultLeadershipTTL, cleanup.Run)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Expired ban cleanup stopped", "error", err)
	}
}

// Run sweeps once immediately, then on every schedule tick until ctx is done.
func (c *ExpiredBanCleanup) Run(ctx context.Context) {
	scheduler := cron.New()
	scheduler.Schedule(c.schedule, cron.FuncJob(func() {
		c.Sweep(ctx)
	}))

	c.Sweep(ctx)
	scheduler.Start()
	c.logger.Debug("Expired ban cleanup scheduled", "schedule", c.expr)

	<-ctx.Done()
	<-scheduler.Stop().Done()
}

// Sweep purges expired bans now. Concurrent callers wait for and share the
// in-flight sweep.
func (c *ExpiredBanCleanup) Sweep(ctx context.Context) ([]string, error) {
	v, err, _ := c.group.Do(sweepKey, func() (any, error) {
		if ctx.Err() != nil {
			return []string{}, ctx.Err()
		}

		start := time.Now()
		purged, err := c.purger.PurgeExpired(ctx)
		if err != nil {
			c.logger.Error("Failed to purge expired bans", "error", err)
			return []string{}, err
		}
		if len(purged) > 0 {
			c.logger.Info("Expired ban cleanup completed", "removed", len(purged), "duration", time.Since(start))
		}
		return purged, nil
	})

	purged, _ := v.([]string)
	if purged == nil {
		purged = []string{}
	}
	return purged, err
}
