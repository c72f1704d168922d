package moderation

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"cidrbans/internal/bans"
	"cidrbans/internal/domain"
)

// Verdict is the outcome of checking a connecting address.
type Verdict struct {
	Banned  bool              `json:"banned"`
	Ban     *domain.BanRecord `json:"ban,omitempty"`
	Message string            `json:"message,omitempty"`
}

// Gate decides whether a connecting address may join.
type Gate struct {
	repo    *bans.Repository
	enabled func() bool
	now     func() time.Time
	logger  *log.Logger
}

type GateOption func(*Gate)

// WithEnabled lets the caller toggle the gate at runtime, e.g. from settings.
func WithEnabled(enabled func() bool) GateOption {
	return func(g *Gate) {
		if enabled != nil {
			g.enabled = enabled
		}
	}
}

func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

func WithGateLogger(l *log.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

func NewGate(repo *bans.Repository, opts ...GateOption) *Gate {
	g := &Gate{
		repo:    repo,
		enabled: func() bool { return true },
		now:     time.Now,
		logger:  log.Default().WithPrefix("gate"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check returns the verdict for address. Lookup failures let the client in;
// the error is returned so callers can decide otherwise.
func (g *Gate) Check(ctx context.Context, address string) (Verdict, error) {
	if !g.enabled() {
		return Verdict{}, nil
	}

	ban, err := g.repo.FindByAddress(ctx, address)
	if err != nil {
		return Verdict{}, err
	}
	if ban == nil {
		return Verdict{}, nil
	}

	now := g.now()
	if ban.IsExpired(now) {
		if _, err := g.repo.DeleteByRange(ctx, ban.Range); err != nil {
			g.logger.Warn("Failed to drop expired ban at join", "range", ban.Range, "error", err)
		}
		return Verdict{}, nil
	}

	g.logger.Info("Rejected banned address", "address", address, "range", ban.Range)
	return Verdict{
		Banned:  true,
		Ban:     ban,
		Message: DisconnectMessage(*ban, now),
	}, nil
}
