package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cidrbans/internal/bans"
	"cidrbans/internal/cidr"
	"cidrbans/internal/domain"
)

// DefaultReason is recorded when a ban is issued without one.
const DefaultReason = "Manually added IP address ban."

const defaultPageSize = 10

// ErrNotBanned is returned by Unban when nothing matched the target.
var ErrNotBanned = errors.New("no matching ban")

// Service implements the operator commands on top of the repository. It fills
// in the audit fields a bare Add leaves empty.
type Service struct {
	repo          *bans.Repository
	now           func() time.Time
	defaultReason func() string
	pageSize      func() int
}

type ServiceOption func(*Service)

func WithDefaultReason(reason string) ServiceOption {
	return WithSettings(func() string { return reason }, nil)
}

func WithPageSize(size int) ServiceOption {
	return WithSettings(nil, func() int { return size })
}

// WithSettings reads the default reason and page size on every call so
// settings changes apply without a restart. Either func may be nil.
func WithSettings(reason func() string, pageSize func() int) ServiceOption {
	return func(s *Service) {
		if reason != nil {
			s.defaultReason = reason
		}
		if pageSize != nil {
			s.pageSize = pageSize
		}
	}
}

func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(repo *bans.Repository, opts ...ServiceOption) *Service {
	s := &Service{
		repo:          repo,
		now:           time.Now,
		defaultReason: func() string { return DefaultReason },
		pageSize:      func() int { return defaultPageSize },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ban issues a permanent ban.
func (s *Service) Ban(ctx context.Context, rangeKey, reason, actor string) (domain.BanRecord, error) {
	return s.add(ctx, rangeKey, reason, actor, 0)
}

// TempBan issues a ban that expires after d.
func (s *Service) TempBan(ctx context.Context, rangeKey string, d time.Duration, reason, actor string) (domain.BanRecord, error) {
	if d <= 0 {
		return domain.BanRecord{}, fmt.Errorf("%w: ban length must be positive", ErrInvalidDuration)
	}
	return s.add(ctx, rangeKey, reason, actor, d)
}

func (s *Service) add(ctx context.Context, rangeKey, reason, actor string, d time.Duration) (domain.BanRecord, error) {
	if strings.TrimSpace(reason) == "" {
		reason = s.defaultReason()
	}
	if strings.TrimSpace(reason) == "" {
		reason = DefaultReason
	}

	now := s.now()
	ban := domain.BanRecord{
		Range:    strings.TrimSpace(rangeKey),
		Reason:   reason,
		IssuedBy: actor,
		IssuedAt: domain.FormatTimestamp(now),
	}
	if d > 0 {
		ban.ExpiresAt = domain.FormatTimestamp(now.Add(d))
	}

	if _, err := s.repo.Add(ctx, ban.Range,
		bans.Reason(ban.Reason),
		bans.IssuedBy(ban.IssuedBy),
		bans.IssuedAt(ban.IssuedAt),
		bans.ExpiresAt(ban.ExpiresAt),
	); err != nil {
		return domain.BanRecord{}, err
	}
	return ban, nil
}

// UnbanResult lists what an Unban removed.
type UnbanResult struct {
	// Exact is true when the target was a range rather than an address.
	Exact  bool     `json:"exact"`
	Ranges []string `json:"ranges"`
}

// Unban deletes the exact range when target is CIDR notation, otherwise every
// range containing the target address.
func (s *Service) Unban(ctx context.Context, target string) (UnbanResult, error) {
	target = strings.TrimSpace(target)

	if _, err := cidr.ParseRange(target); err == nil {
		removed, err := s.repo.DeleteByRange(ctx, target)
		if err != nil {
			return UnbanResult{Exact: true, Ranges: []string{}}, err
		}
		if !removed {
			return UnbanResult{Exact: true, Ranges: []string{}}, fmt.Errorf("%w: %s", ErrNotBanned, target)
		}
		return UnbanResult{Exact: true, Ranges: []string{target}}, nil
	}

	if _, err := cidr.ParseAddress(target); err != nil {
		return UnbanResult{Ranges: []string{}}, &cidr.FormatError{Input: target, Reason: "expected an address or a CIDR range"}
	}

	ranges, err := s.repo.DeleteAllMatchingAddress(ctx, target)
	if err != nil {
		return UnbanResult{Ranges: []string{}}, err
	}
	if len(ranges) == 0 {
		return UnbanResult{Ranges: ranges}, fmt.Errorf("%w: %s", ErrNotBanned, target)
	}
	return UnbanResult{Ranges: ranges}, nil
}

// Page is one page of the ban listing. Number is 1-based.
type Page struct {
	Number     int                `json:"page"`
	TotalPages int                `json:"total_pages"`
	Total      int                `json:"total"`
	Bans       []domain.BanRecord `json:"bans"`
}

// Bans returns every stored ban. activeOnly drops expired entries, which the
// repository listing keeps.
func (s *Service) Bans(ctx context.Context, activeOnly bool) ([]domain.BanRecord, error) {
	all, err := s.repo.ListAll(ctx)
	if err != nil || !activeOnly {
		return all, err
	}

	now := s.now()
	active := make([]domain.BanRecord, 0, len(all))
	for _, ban := range all {
		if !ban.IsExpired(now) {
			active = append(active, ban)
		}
	}
	return active, nil
}

// List returns page number of Bans.
func (s *Service) List(ctx context.Context, number int, activeOnly bool) (Page, error) {
	all, err := s.Bans(ctx, activeOnly)
	if err != nil {
		return Page{Number: 1, TotalPages: 1, Bans: []domain.BanRecord{}}, err
	}
	return paginate(all, number, s.pageSize()), nil
}

func paginate(all []domain.BanRecord, number, size int) Page {
	if size <= 0 {
		size = defaultPageSize
	}
	totalPages := max((len(all)+size-1)/size, 1)
	number = min(max(number, 1), totalPages)

	start := min((number-1)*size, len(all))
	end := min(start+size, len(all))

	page := make([]domain.BanRecord, end-start)
	copy(page, all[start:end])
	return Page{Number: number, TotalPages: totalPages, Total: len(all), Bans: page}
}
