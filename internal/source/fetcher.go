package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/Rana718/crashetl/internal/config"
	"github.com/Rana718/crashetl/internal/errors"
	"github.com/Rana718/crashetl/internal/types"
)

// HTTPDoer is a minimal interface for HTTP clients.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

type Request struct {
	Entity types.Entity
	Window types.Window
	RowCap int
}

type Result struct {
	Table     *types.Table
	Pages     int
	Discarded int
	// Truncated reports that the cap was reached on a full page, so more
	// matching rows may exist upstream.
	Truncated bool
}

type Fetcher struct {
	client   HTTPDoer
	baseURL  string
	pageSize int
	headers  map[string]string
}

type Option func(*Fetcher)

func WithHTTPClient(client HTTPDoer) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

func WithPageSize(size int) Option {
	return func(f *Fetcher) {
		if size > 0 {
			f.pageSize = size
		}
	}
}

// WithAppToken sends the Socrata application token on every request.
func WithAppToken(token string) Option {
	return func(f *Fetcher) {
		if token != "" {
			f.headers["X-App-Token"] = token
		}
	}
}

func WithHeader(key, value string) Option {
	return func(f *Fetcher) {
		f.headers[key] = value
	}
}

func NewFetcher(baseURL string, options ...Option) *Fetcher {
	f := &Fetcher{
		client:   &http.Client{Timeout: 60 * time.Second},
		baseURL:  baseURL,
		pageSize: 10000,
		headers:  make(map[string]string),
	}
	for _, option := range options {
		option(f)
	}
	return f
}

// NewFromConfig wires the retry transport, timeout, page size and app token.
func NewFromConfig(cfg *config.Config) *Fetcher {
	transport := NewRetryTransport(http.DefaultTransport, cfg.Source.Retry)
	transport.AttemptTimeout = cfg.Source.Timeout
	client := &http.Client{Transport: transport}
	return NewFetcher(cfg.Source.BaseURL,
		WithHTTPClient(client),
		WithPageSize(cfg.Source.PageSize),
		WithAppToken(cfg.AppToken()),
	)
}

// Fetch pages through one dataset until the window is exhausted or RowCap
// rows have been collected.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	if req.RowCap <= 0 {
		return nil, errors.WrapError(nil, errors.ErrFetch, fmt.Sprintf("row cap for %s must be positive", req.Entity.Name))
	}
	if err := req.Window.Validate(); err != nil {
		return nil, errors.WrapError(err, errors.ErrFetch, "invalid window")
	}

	builder := NewBuilder(f.baseURL, req.Entity.ResourceID, f.headers)
	builder.Where = req.Window.SoQL(req.Entity.TimestampField)

	result := &Result{}
	var records []map[string]any
	offset := 0
	exhausted := false

	for len(records) < req.RowCap {
		limit := min(f.pageSize, req.RowCap-len(records))

		httpReq, err := builder.Build(ctx, offset, limit)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrFetch, "build request")
		}

		page, err := f.fetchPage(httpReq)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrFetch,
				fmt.Sprintf("%s page %d (offset %d)", req.Entity.Name, result.Pages+1, offset))
		}
		result.Pages++
		offset += len(page)

		for _, rec := range page {
			if !inWindow(rec, req.Entity.TimestampField, req.Window) {
				result.Discarded++
				continue
			}
			records = append(records, rec)
			if len(records) == req.RowCap {
				break
			}
		}

		if len(page) < limit {
			exhausted = true
			break
		}
	}

	// The cap was hit on a full page; only a further matching row means the
	// window held more than RowCap rows.
	if !exhausted {
		more, err := f.hasMore(ctx, builder, offset)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrFetch,
				fmt.Sprintf("%s lookahead (offset %d)", req.Entity.Name, offset))
		}
		result.Truncated = more
	}

	result.Table = toTable(req.Entity, records)
	return result, nil
}

func (f *Fetcher) hasMore(ctx context.Context, builder *Builder, offset int) (bool, error) {
	httpReq, err := builder.Build(ctx, offset, 1)
	if err != nil {
		return false, err
	}
	page, err := f.fetchPage(httpReq)
	if err != nil {
		return false, err
	}
	return len(page) > 0, nil
}

func (f *Fetcher) fetchPage(req *http.Request) ([]map[string]any, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: snippet(body)}
	}

	return decodeRows(body)
}

// decodeRows expects a JSON array of flat objects. Numbers stay json.Number.
func decodeRows(body []byte) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode response JSON: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected response format: %T", raw)
	}

	rows := make([]map[string]any, 0, len(items))
	for i, item := range items {
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("item at index %d is not an object: %T", i, item)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func inWindow(rec map[string]any, field string, w types.Window) bool {
	raw, ok := rec[field].(string)
	if !ok {
		return false
	}
	ts, err := types.ParseTimestamp(raw)
	if err != nil {
		return false
	}
	return w.Contains(ts)
}

// toTable builds a table from the union of record keys. The entity's key and
// timestamp columns are always present so an empty window still has a shape.
func toTable(entity types.Entity, records []map[string]any) *types.Table {
	seen := make(map[string]struct{})
	for _, required := range []string{entity.KeyField, entity.TimestampField} {
		if required != "" {
			seen[required] = struct{}{}
		}
	}
	for _, rec := range records {
		for k := range rec {
			seen[k] = struct{}{}
		}
	}
	columns := make([]string, 0, len(seen))
	for k := range seen {
		columns = append(columns, k)
	}
	sort.Strings(columns)

	table := types.NewTable(entity.Table, columns)
	for _, rec := range records {
		row := make([]any, len(columns))
		for i, col := range columns {
			row[i] = rec[col]
		}
		table.Rows = append(table.Rows, row)
	}
	return table
}

func snippet(body []byte) string {
	if len(body) > 512 {
		return string(body[:512])
	}
	return string(body)
}
