// Package eventstore reads the click event log in bounded pages.
package eventstore

import (
	"context"
	"fmt"
	"slices"

	"github.com/scmmishra/leadtrace/internal/metrics"
	"github.com/scmmishra/leadtrace/internal/models"
)

const (
	DefaultPageSize = 1000
	DefaultMaxRows  = 200000
)

type Query = models.EventFilter

// PageReader reads one page of events matching q, newest first, so that
// offset 0 is always the most recent row.
type PageReader interface {
	ReadPage(ctx context.Context, q Query, offset, limit int) ([]models.ClickEvent, error)
}

// PageLimiter is implemented by readers whose backing store caps the rows
// returned per request.
type PageLimiter interface {
	MaxPageSize() int
}

type Client struct {
	reader   PageReader
	pageSize int
	maxRows  int
}

// NewClient returns a Client that requests pageSize rows at a time and
// never returns more than maxRows. Non-positive values select the defaults.
func NewClient(reader PageReader, pageSize, maxRows int) *Client {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	if l, ok := reader.(PageLimiter); ok && l.MaxPageSize() > 0 && l.MaxPageSize() < pageSize {
		pageSize = l.MaxPageSize()
	}
	return &Client{reader: reader, pageSize: pageSize, maxRows: maxRows}
}

// FetchAll reads every row matching q up to the row cap and returns them
// oldest first. When more than maxRows rows match, the newest maxRows are
// kept. A page shorter than requested ends the read; store errors are
// returned as-is, never with the rows read so far.
func (c *Client) FetchAll(ctx context.Context, q Query) ([]models.ClickEvent, error) {
	var all []models.ClickEvent
	for offset := 0; offset < c.maxRows; {
		limit := min(c.pageSize, c.maxRows-offset)
		page, err := c.reader.ReadPage(ctx, q, offset, limit)
		if err != nil {
			return nil, fmt.Errorf("read events at offset %d: %w", offset, err)
		}
		all = append(all, page...)
		metrics.EventRowsFetched.Add(float64(len(page)))
		if len(page) < limit {
			break
		}
		offset += len(page)
	}
	slices.Reverse(all)
	return all, nil
}
