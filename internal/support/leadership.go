package support

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLeadershipTTL = 45 * time.Second

	leadershipRetryDelay = time.Second
	lockCallTimeout      = 5 * time.Second
	minRenewalInterval   = time.Second
	renewalsPerTTL       = 3
)

var (
	holderSeq atomic.Uint64

	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// LeaderKey namespaces a lock name for this service.
func LeaderKey(name string) string {
	return "cidrbans:leader:" + name
}

// RunWithLeader blocks until this process holds the redis lock at key, then
// calls run with a context that is cancelled if the lock is lost. After run
// returns the lock is released and the race starts again. It only returns
// once ctx is done.
func RunWithLeader(ctx context.Context, client redis.UniversalClient, key string, ttl time.Duration, run func(context.Context)) error {
	if run == nil {
		return errors.New("support: leader run function cannot be nil")
	}
	if client == nil {
		return errors.New("support: leader lock needs a redis client")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if ttl <= 0 {
		ttl = DefaultLeadershipTTL
	}

	for {
		term, err := campaign(ctx, client, key, ttl)
		if err != nil {
			return err
		}

		log.Debug("leader lock: acquired", "key", key)
		run(term.ctx)
		term.resign()
		log.Debug("leader lock: released", "key", key)

		if err := sleepCtx(ctx, leadershipRetryDelay); err != nil {
			return err
		}
	}
}

// leaderTerm is one continuous period of holding the lock.
type leaderTerm struct {
	client redis.UniversalClient
	key    string
	token  string
	ttl    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// campaign retries SETNX until it wins or ctx ends.
func campaign(ctx context.Context, client redis.UniversalClient, key string, ttl time.Duration) (*leaderTerm, error) {
	token := holderToken()

	for {
		won, err := client.SetNX(ctx, key, token, ttl).Result()
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			log.Warn("leader lock: setnx failed", "key", key, "error", err)
		case won:
			termCtx, cancel := context.WithCancel(ctx)
			term := &leaderTerm{
				client: client,
				key:    key,
				token:  token,
				ttl:    ttl,
				ctx:    termCtx,
				cancel: cancel,
				done:   make(chan struct{}),
			}
			go term.keepAlive()
			return term, nil
		}

		if err := sleepCtx(ctx, leadershipRetryDelay); err != nil {
			return nil, err
		}
	}
}

func (t *leaderTerm) resign() {
	t.once.Do(func() {
		close(t.done)
		t.cancel()
		if err := t.unlock(); err != nil {
			log.Warn("leader lock: release failed", "key", t.key, "error", err)
		}
	})
}

func (t *leaderTerm) keepAlive() {
	interval := max(t.ttl/renewalsPerTTL, minRenewalInterval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			if err := t.extend(); err != nil {
				log.Warn("leader lock: renewal failed", "key", t.key, "error", err)
				t.cancel()
				return
			}
		}
	}
}

func (t *leaderTerm) extend() error {
	ctx, cancel := context.WithTimeout(context.Background(), lockCallTimeout)
	defer cancel()

	res, err := extendScript.Run(ctx, t.client, []string{t.key}, t.token, t.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return errors.New("lock lost")
	}
	return nil
}

func (t *leaderTerm) unlock() error {
	ctx, cancel := context.WithTimeout(context.Background(), lockCallTimeout)
	defer cancel()

	err := unlockScript.Run(ctx, t.client, []string{t.key}, t.token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func holderToken() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d-%d", host, os.Getpid(), time.Now().UnixNano(), holderSeq.Add(1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
