package source

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Builder builds SoQL GET requests against one Socrata resource.
type Builder struct {
	BaseURL    string
	ResourceID string
	Headers    map[string]string
	Where      string
	Order      string
}

func NewBuilder(baseURL, resourceID string, headers map[string]string) *Builder {
	if headers == nil {
		headers = make(map[string]string)
	}
	return &Builder{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ResourceID: resourceID,
		Headers:    headers,
		Order:      ":id",
	}
}

// Endpoint is the JSON resource URL without query parameters.
func (b *Builder) Endpoint() string {
	return b.BaseURL + "/" + b.ResourceID + ".json"
}

// Build creates the request for one page.
func (b *Builder) Build(ctx context.Context, offset, limit int) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.Endpoint(), nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	for k, v := range b.Headers {
		req.Header.Set(k, v)
	}

	q := url.Values{}
	if b.Where != "" {
		q.Set("$where", b.Where)
	}
	if b.Order != "" {
		q.Set("$order", b.Order)
	}
	q.Set("$limit", strconv.Itoa(limit))
	q.Set("$offset", strconv.Itoa(offset))
	req.URL.RawQuery = q.Encode()

	return req, nil
}
