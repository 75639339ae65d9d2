// Package activityfeed pages through activity history and merges it with live
// operations for display.
package activityfeed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rpggio/optrack/internal/domain/activity"
	"github.com/rpggio/optrack/internal/domain/operation"
)

// Source is the read side of the activity log service.
type Source interface {
	GetActivityLogs(ctx context.Context, opts activity.ListOptions) (activity.Page, error)
}

// Paginator holds the history pages fetched so far.
type Paginator struct {
	source   Source
	pageSize int
	logger   *slog.Logger

	mu           sync.Mutex
	pages        []activity.Page
	loaded       bool
	initialLoads int
	fetchingNext bool
	generation   uint64
}

// NewPaginator creates a paginator reading pageSize records per page.
func NewPaginator(source Source, pageSize int, logger *slog.Logger) *Paginator {
	if pageSize <= 0 {
		pageSize = activity.DefaultPageSize
	}
	if pageSize > activity.MaxPageSize {
		pageSize = activity.MaxPageSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Paginator{source: source, pageSize: pageSize, logger: logger}
}

// LoadInitial fetches the first page, replacing anything loaded before.
func (p *Paginator) LoadInitial(ctx context.Context) error {
	p.mu.Lock()
	p.generation++
	gen := p.generation
	p.initialLoads++
	p.mu.Unlock()

	page, err := p.source.GetActivityLogs(ctx, activity.ListOptions{Limit: p.pageSize})

	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialLoads--
	if gen != p.generation {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading activity history: %w", err)
	}
	p.pages = []activity.Page{page}
	p.loaded = true
	return nil
}

// FetchNextPage appends the page after the last loaded one. It is a no-op
// when nothing more is available or a fetch is already running.
func (p *Paginator) FetchNextPage(ctx context.Context) error {
	p.mu.Lock()
	if !p.loaded {
		p.mu.Unlock()
		return p.LoadInitial(ctx)
	}
	last := p.pages[len(p.pages)-1]
	if p.fetchingNext || !last.HasMore || last.NextCursor == nil {
		p.mu.Unlock()
		return nil
	}
	p.fetchingNext = true
	gen := p.generation
	cursor := *last.NextCursor
	p.mu.Unlock()

	page, err := p.source.GetActivityLogs(ctx, activity.ListOptions{Limit: p.pageSize, Cursor: &cursor})

	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetchingNext = false
	if err != nil {
		return fmt.Errorf("fetching next activity page: %w", err)
	}
	if gen != p.generation {
		return nil
	}
	p.pages = append(p.pages, page)
	return nil
}

// Refresh refetches as many pages as are loaded, from the top.
func (p *Paginator) Refresh(ctx context.Context) error {
	p.mu.Lock()
	if !p.loaded {
		p.mu.Unlock()
		return p.LoadInitial(ctx)
	}
	p.generation++
	gen := p.generation
	want := len(p.pages)
	p.mu.Unlock()

	var pages []activity.Page
	var cursor *string
	for i := 0; i < want; i++ {
		page, err := p.source.GetActivityLogs(ctx, activity.ListOptions{Limit: p.pageSize, Cursor: cursor})
		if err != nil {
			return fmt.Errorf("refreshing activity history: %w", err)
		}
		pages = append(pages, page)
		if !page.HasMore || page.NextCursor == nil {
			break
		}
		cursor = page.NextCursor
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.generation {
		p.logger.Debug("discarding superseded activity refresh")
		return nil
	}
	p.pages = pages
	return nil
}

// HasNextPage reports whether another page can be fetched.
func (p *Paginator) HasNextPage() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loaded || len(p.pages) == 0 {
		return false
	}
	return p.pages[len(p.pages)-1].HasMore
}

// IsFetchingNextPage reports whether FetchNextPage is in flight.
func (p *Paginator) IsFetchingNextPage() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetchingNext
}

// IsLoadingInitial reports whether the first page is loading and nothing
// has been loaded yet.
func (p *Paginator) IsLoadingInitial() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialLoads > 0 && !p.loaded
}

// Records returns every loaded historical record in page order.
func (p *Paginator) Records() []activity.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []activity.Record
	for _, page := range p.pages {
		out = append(out, page.Items...)
	}
	return out
}

// Entries merges live operations with the loaded history.
func (p *Paginator) Entries(live []operation.Operation, now time.Time) []DisplayEntry {
	return Merge(live, p.Records(), now)
}
