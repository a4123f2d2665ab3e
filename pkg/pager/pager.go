// Package pager walks the cursor pagination of a user's image listing.
package pager

import (
	"context"
	"errors"
	"fmt"

	"civitscraper/pkg/civitai"
	errs "civitscraper/pkg/errors"
	"civitscraper/pkg/logger"
	"civitscraper/pkg/ratelimit"
	"civitscraper/pkg/retry"
)

// ErrDone is returned by Next once the last page has been delivered.
var ErrDone = errors.New("pagination complete")

// PageFetcher fetches one page of a user's images. An empty cursor asks for
// the first page.
type PageFetcher interface {
	FetchImages(ctx context.Context, username, cursor string) (*civitai.Page, error)
}

// Options tune a Pager. Zero values fall back to defaults.
type Options struct {
	Policy  retry.Policy
	Limiter ratelimit.Limiter
	Logger  logger.Logger
}

// Pager produces pages in order, one call to Next per page. It is not safe
// for concurrent use and cannot be rewound; a new run needs a new Pager.
type Pager struct {
	fetcher  PageFetcher
	username string
	policy   retry.Policy
	limiter  ratelimit.Limiter
	logger   logger.Logger

	cursor string
	seen   map[string]struct{}
	pages  int
	done   bool
}

// New creates a pager for username starting at the first page.
func New(fetcher PageFetcher, username string, opts Options) *Pager {
	policy := opts.Policy
	if policy.MaxAttempts == 0 && policy.Backoff == nil {
		policy = retry.DefaultPolicy()
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	return &Pager{
		fetcher:  fetcher,
		username: username,
		policy:   policy,
		limiter:  opts.Limiter,
		logger:   log.WithField("username", username),
		seen:     make(map[string]struct{}),
	}
}

// Pages is the number of pages delivered so far.
func (p *Pager) Pages() int {
	return p.pages
}

// Cursor is the cursor the next page will be requested with.
func (p *Pager) Cursor() string {
	return p.cursor
}

// Next fetches the next page, retrying transient failures. It returns
// ErrDone after the final page. Any other error ends pagination for good.
//
// When the server hands back a cursor already used in this run, or an empty
// page that still carries a cursor, Next returns the page together with a
// PaginationAnomaly error so its records can still be processed.
func (p *Pager) Next(ctx context.Context) (*civitai.Page, error) {
	if p.done {
		return nil, ErrDone
	}

	cursor := p.cursor
	cfg := &retry.Config{
		Policy: p.policy,
		Logger: p.logger,
		Op:     "fetch page",
	}
	page, attempts, err := retry.DoWithResult(ctx, cfg, func(ctx context.Context, attempt int) (*civitai.Page, error) {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil, errs.Cancelled("fetch page", err)
			}
		}
		return p.fetcher.FetchImages(ctx, p.username, cursor)
	})
	if err != nil {
		p.done = true
		p.logger.WithError(err).WithFields(map[string]interface{}{
			"cursor":   cursor,
			"attempts": attempts,
		}).Error("Page fetch failed, stopping pagination")
		return nil, fmt.Errorf("fetch page %d: %w", p.pages+1, err)
	}

	p.pages++
	if cursor != "" {
		p.seen[cursor] = struct{}{}
	}

	p.logger.InfoWithFields("Page fetched", map[string]interface{}{
		"page":        p.pages,
		"records":     len(page.Records),
		"rejected":    len(page.Rejected),
		"next_cursor": page.NextCursor,
		"attempts":    attempts,
	})

	next := page.NextCursor
	if next == "" {
		p.done = true
		return page, nil
	}

	if page.Len() == 0 {
		p.done = true
		return page, errs.Anomaly("fetch page", fmt.Sprintf("empty page %d still returned cursor %q", p.pages, next))
	}
	if _, repeated := p.seen[next]; repeated || next == cursor {
		p.done = true
		return page, errs.Anomaly("fetch page", fmt.Sprintf("cursor %q on page %d was already used in this run", next, p.pages))
	}

	p.cursor = next
	return page, nil
}
