// Package twitter fetches account timelines from the v2 posts API one page at a time.
package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/cyderes/tweet-ingestion-service/internal/config"
	"github.com/cyderes/tweet-ingestion-service/internal/models"
)

const (
	minPageSize = 5
	maxPageSize = 100

	// maxErrorBody caps how much of an error response is kept on UpstreamError
	maxErrorBody = 4096
)

// UpstreamError is returned when the posts API answers with a non-200 status
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("request returned an error: %d %s", e.StatusCode, e.Body)
}

// Page is one page of an account's timeline.
// An empty NextCursor means the timeline is exhausted.
type Page struct {
	Posts       []models.Post
	NextCursor  string
	ResultCount int
}

type timelineResponse struct {
	Data []models.Post `json:"data"`
	Meta struct {
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token"`
	} `json:"meta"`
}

// Client issues authenticated timeline requests
type Client struct {
	baseURL     string
	bearerToken string
	fields      []string
	pageSize    int
	httpClient  *http.Client
	limiter     *rate.Limiter
}

// NewClient creates a timeline client. When RequestsPerWindow is set,
// requests are spread so the upstream quota per RateWindow is not exceeded.
func NewClient(cfg config.TwitterConfig) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		bearerToken: cfg.BearerToken,
		fields:      cfg.Fields,
		pageSize:    clampPageSize(cfg.PageSize),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}

	if cfg.RequestsPerWindow > 0 && cfg.RateWindow > 0 {
		every := cfg.RateWindow / time.Duration(cfg.RequestsPerWindow)
		c.limiter = rate.NewLimiter(rate.Every(every), 1)
	}

	return c
}

func clampPageSize(n int) int {
	if n < minPageSize {
		return minPageSize
	}
	if n > maxPageSize {
		return maxPageSize
	}
	return n
}

// EndpointURL returns the timeline endpoint of an account
func (c *Client) EndpointURL(accountID string) string {
	return fmt.Sprintf("%s/2/users/%s/tweets", c.baseURL, url.PathEscape(accountID))
}

// QueryParams returns the field selection, page size and cursor for one request.
// The cursor is omitted on the first page.
func (c *Client) QueryParams(cursor string) url.Values {
	params := url.Values{}
	params.Set("tweet.fields", strings.Join(c.fields, ","))
	params.Set("max_results", strconv.Itoa(c.pageSize))
	if cursor != "" {
		params.Set("pagination_token", cursor)
	}
	return params
}

// FetchPage performs a single request for the page at cursor. It never retries.
func (c *Client) FetchPage(ctx context.Context, accountID, cursor string) (*Page, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	endpoint := c.EndpointURL(accountID) + "?" + c.QueryParams(cursor).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var payload timelineResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &Page{
		Posts:       payload.Data,
		NextCursor:  payload.Meta.NextToken,
		ResultCount: payload.Meta.ResultCount,
	}, nil
}
