package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.ebay.com"
	MaxPageSize    = 200

	searchPath = "/buy/browse/v1/item_summary/search"
	itemPath   = "/buy/browse/v1/item/"
)

// Tokens supplies bearer credentials to the client.
type Tokens interface {
	Get(ctx context.Context, now time.Time) (string, error)
	Invalidate()
}

// StatusError is a non-success provider response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("marketplace API error %d: %s", e.StatusCode, e.Body)
}

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	// Limiter paces outgoing API calls; nil disables pacing.
	Limiter *rate.Limiter
	Now     func() time.Time
}

// Client talks to the Browse search and item endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  Tokens
	limiter *rate.Limiter
	now     func() time.Time
	log     *logrus.Entry
}

func NewClient(tokens Tokens, opts Options) *Client {
	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    opts.HTTPClient,
		tokens:  tokens,
		limiter: opts.Limiter,
		now:     opts.Now,
		log:     logrus.WithField("component", "marketplace"),
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// SearchRequest describes one marketplace/term search.
type SearchRequest struct {
	Marketplace   string
	Query         string
	CategoryIDs   []string
	BuyingOptions []string
	// MaxResults caps the accumulated result count across pages.
	MaxResults int
	PageSize   int
}

func (r SearchRequest) pageSize() int {
	switch {
	case r.PageSize <= 0:
		return 50
	case r.PageSize > MaxPageSize:
		return MaxPageSize
	}
	return r.PageSize
}

// SearchPage fetches a single page starting at offset.
func (c *Client) SearchPage(ctx context.Context, req SearchRequest, offset int) (*SearchPage, error) {
	params := url.Values{}
	params.Set("q", req.Query)
	params.Set("limit", strconv.Itoa(req.pageSize()))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("sort", "newlyListed")
	if len(req.BuyingOptions) > 0 {
		params.Set("filter", "buyingOptions:{"+strings.Join(req.BuyingOptions, "|")+"}")
	}
	if len(req.CategoryIDs) > 0 {
		params.Set("category_ids", strings.Join(req.CategoryIDs, ","))
	}

	resp, err := c.get(ctx, req.Marketplace, searchPath+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var page SearchPage
	if err := decodeJSON(resp, &page); err != nil {
		return nil, fmt.Errorf("decode search page: %w", err)
	}
	return &page, nil
}

// Search paginates until the cap, the reported total or an empty page.
// Items gathered before a failing page are returned with the error.
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]ItemSummary, error) {
	size := req.pageSize()
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = size
	}

	var items []ItemSummary
	offset := 0
	for len(items) < maxResults {
		page, err := c.SearchPage(ctx, req, offset)
		if err != nil {
			return items, fmt.Errorf("search %s %q offset %d: %w", req.Marketplace, req.Query, offset, err)
		}
		items = append(items, page.ItemSummaries...)
		c.log.Debugf("%s %q offset=%d got=%d total=%d", req.Marketplace, req.Query, offset, len(page.ItemSummaries), page.Total)

		offset += size
		if len(page.ItemSummaries) == 0 || offset >= page.Total {
			break
		}
	}

	if len(items) > maxResults {
		items = items[:maxResults]
	}
	return items, nil
}

// ItemDetail fetches extended fields for one item. A non-success status
// yields an empty detail and no error; transport and auth failures are
// returned.
func (c *Client) ItemDetail(ctx context.Context, marketplace, itemID string) (*ItemDetail, error) {
	resp, err := c.get(ctx, marketplace, itemPath+url.PathEscape(itemID)+"?fieldgroups=EXTENDED")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		c.log.Debugf("detail %s: status %d", itemID, resp.StatusCode)
		return &ItemDetail{}, nil
	}

	var detail ItemDetail
	if err := decodeJSON(resp, &detail); err != nil {
		c.log.Debugf("detail %s: %v", itemID, err)
		return &ItemDetail{}, nil
	}
	return &detail, nil
}

func (c *Client) get(ctx context.Context, marketplace, pathAndQuery string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	token, err := c.tokens.Get(ctx, c.now())
	if err != nil {
		if !errors.Is(err, ErrAuth) && !errors.Is(err, ErrMissingCredentials) {
			err = fmt.Errorf("%w: %v", ErrAuth, err)
		}
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathAndQuery, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, br")
	if marketplace != "" {
		req.Header.Set("X-EBAY-C-MARKETPLACE-ID", marketplace)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
	}
	return resp, nil
}

func decodeJSON(resp *http.Response, v any) error {
	reader, err := bodyReader(resp)
	if err != nil {
		return err
	}
	return json.NewDecoder(reader).Decode(v)
}

func statusError(resp *http.Response) error {
	reader, err := bodyReader(resp)
	if err != nil {
		reader = resp.Body
	}
	body, _ := io.ReadAll(io.LimitReader(reader, 2048))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
}
