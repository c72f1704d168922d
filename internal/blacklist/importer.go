// Package blacklist bulk-imports bans from published IP blocklists, either
// remote (http/https) or local files.
package blacklist

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"cidrbans/internal/cidr"
	"cidrbans/internal/domain"
)

const maxResponseBytes = 10 << 20 // 10 MiB safety cap

var entryRegex = regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}(?:/\d{1,2})?\b`)

// Banner is the part of the moderation service an import needs.
type Banner interface {
	Ban(ctx context.Context, rangeKey, reason, actor string) (domain.BanRecord, error)
	TempBan(ctx context.Context, rangeKey string, d time.Duration, reason, actor string) (domain.BanRecord, error)
}

// Outcome summarises one imported source.
type Outcome struct {
	Source   string   `json:"source"`
	Found    int      `json:"found"`
	Added    []string `json:"added"`
	Skipped  int      `json:"skipped_existing"`
	Failed   int      `json:"failed"`
	FetchErr string   `json:"error,omitempty"`
}

// Request describes an import. Empty Reason becomes "Imported from <source>";
// zero Duration means permanent bans.
type Request struct {
	Sources  []string      `json:"sources"`
	Reason   string        `json:"reason"`
	Actor    string        `json:"issued_by"`
	Duration time.Duration `json:"-"`
}

type Importer struct {
	banner Banner
	client *http.Client
	group  singleflight.Group
}

func NewImporter(banner Banner) *Importer {
	return &Importer{
		banner: banner,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Import processes every source in order. A source that cannot be read is
// reported in its Outcome and does not stop the others.
func (im *Importer) Import(ctx context.Context, req Request) ([]Outcome, error) {
	if len(req.Sources) == 0 {
		return nil, errors.New("blacklist: no sources given")
	}

	outcomes := make([]Outcome, 0, len(req.Sources))
	for _, src := range req.Sources {
		if ctx.Err() != nil {
			return outcomes, ctx.Err()
		}
		outcomes = append(outcomes, im.importSource(ctx, strings.TrimSpace(src), req))
	}
	return outcomes, nil
}

func (im *Importer) importSource(ctx context.Context, src string, req Request) Outcome {
	outcome := Outcome{Source: src, Added: []string{}}

	// concurrent imports of the same source share one download
	v, err, _ := im.group.Do(src, func() (any, error) {
		return im.fetch(ctx, src)
	})
	if err != nil {
		log.Warn("Blocklist fetch failed", "source", src, "error", err)
		outcome.FetchErr = err.Error()
		return outcome
	}
	ranges := v.([]string)
	outcome.Found = len(ranges)

	reason := req.Reason
	if strings.TrimSpace(reason) == "" {
		reason = "Imported from " + src
	}

	for _, r := range ranges {
		var err error
		if req.Duration > 0 {
			_, err = im.banner.TempBan(ctx, r, req.Duration, reason, req.Actor)
		} else {
			_, err = im.banner.Ban(ctx, r, reason, req.Actor)
		}
		switch {
		case err == nil:
			outcome.Added = append(outcome.Added, r)
		case errors.Is(err, domain.ErrDuplicateKey):
			outcome.Skipped++
		default:
			outcome.Failed++
		}
	}

	log.Info("Blocklist imported",
		"source", src,
		"found", outcome.Found,
		"added", len(outcome.Added),
		"skipped", outcome.Skipped,
		"failed", outcome.Failed,
	)
	return outcome
}

func (im *Importer) fetch(ctx context.Context, src string) ([]string, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		f, err := os.Open(src)
		if err != nil {
			return nil, fmt.Errorf("open blocklist: %w", err)
		}
		defer f.Close()
		return parseEntries(io.LimitReader(f, maxResponseBytes))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := im.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return parseEntries(bytes.NewReader(content))
}

// parseEntries pulls every IPv4 address or CIDR range out of free-form text.
// Comment lines (# or ;) are ignored, bare addresses become /32 ranges and
// entries that do not validate are dropped. Order of first appearance is kept.
func parseEntries(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024), 1024*1024)

	seen := make(map[string]struct{})
	out := make([]string, 0)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' || line[0] == ';' {
			continue
		}
		for _, match := range entryRegex.FindAll(line, -1) {
			key, ok := normalizeEntry(string(match))
			if !ok {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, key)
		}
	}

	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("scan blocklist: %w", err)
	}
	return out, nil
}

func normalizeEntry(raw string) (string, bool) {
	if !strings.Contains(raw, "/") {
		addr, err := cidr.ParseAddress(raw)
		if err != nil {
			return "", false
		}
		return cidr.Range{Base: addr, Prefix: 32}.String(), true
	}
	if _, err := cidr.ParseRange(raw); err != nil {
		return "", false
	}
	return raw, true
}
