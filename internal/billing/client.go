package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"costwatch/internal/config"
	"costwatch/internal/metrics"
	"costwatch/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// The five grouping dimensions every cost query requests.
var queryGrouping = []string{
	ColResourceID,
	ColResourceGroup,
	ColCategory,
	ColSubCategory,
	ColMeter,
}

// Column names in the provider's columnar response.
const (
	ColResourceID    = "ResourceId"
	ColResourceGroup = "ResourceGroup"
	ColCategory      = "ServiceName"
	ColSubCategory   = "MeterSubCategory"
	ColMeter         = "Meter"
	ColCost          = "PreTaxCost"
	ColCurrency      = "Currency"
	ColUsageDate     = "UsageDate"
)

// QueryRequest is the per-page POST body.
type QueryRequest struct {
	TimePeriod  QueryTimePeriod `json:"time_period"`
	Granularity string          `json:"granularity"`
	Grouping    []string        `json:"grouping"`
}

type QueryTimePeriod struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// QueryResponse is the provider's columnar page: column names, rows of
// positional values and an opaque continuation link.
type QueryResponse struct {
	Columns  []QueryColumn   `json:"columns"`
	Rows     [][]interface{} `json:"rows"`
	NextLink string          `json:"nextLink,omitempty"`
}

type QueryColumn struct {
	Name string `json:"name"`
}

// Row is one provider row with column names zipped onto positions.
type Row map[string]interface{}

// String returns the named value coerced to a string, or "".
func (r Row) String(name string) string {
	switch v := r[name].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

// Client fetches paginated cost data for one chunk at a time.
type Client struct {
	cfg    config.BillingConfig
	http   *http.Client
	logger *zerolog.Logger
}

func NewClient(cfg config.BillingConfig, logger *zerolog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.HTTPTimeout},
		logger: logger,
	}
}

// FetchCost pulls all pages of daily cost rows for one chunk range.
// On a 429 the whole chunk fetch restarts with linearly increasing
// backoff (attempt × retry_backoff) up to max_retries; any other
// provider error aborts immediately.
func (c *Client) FetchCost(ctx context.Context, token, subscriptionID string, start, end time.Time) ([]Row, error) {
	for attempt := 0; ; attempt++ {
		rows, err := c.fetchAllPages(ctx, token, subscriptionID, start, end)
		if err == nil {
			return rows, nil
		}
		if !isRateLimited(err) {
			return nil, err
		}
		if attempt >= c.cfg.MaxRetries {
			return nil, fmt.Errorf("retries exhausted after %d attempts: %w", attempt+1, err)
		}

		metrics.IncFetchRetry()
		backoff := time.Duration(attempt+1) * c.cfg.RetryBackoff
		c.logger.Warn().
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Str("from", start.Format(models.DateLayout)).
			Str("to", end.Format(models.DateLayout)).
			Msg("billing rate limited, retrying chunk fetch")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (c *Client) fetchAllPages(ctx context.Context, token, subscriptionID string, start, end time.Time) ([]Row, error) {
	body := QueryRequest{
		TimePeriod: QueryTimePeriod{
			From: start.Format(models.DateLayout),
			To:   end.Format(models.DateLayout),
		},
		Granularity: "Daily",
		Grouping:    queryGrouping,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	url := c.cfg.QueryURL
	if strings.Contains(url, "%s") {
		url = fmt.Sprintf(url, subscriptionID)
	}

	// Fixed inter-page spacing keeps the fetch under the provider's
	// rate limit; the first page goes out immediately.
	limiter := rate.NewLimiter(rate.Every(c.cfg.PageDelay), 1)

	var rows []Row
	for page := 0; page < c.cfg.MaxPages; page++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.fetchPage(ctx, url, token, payload)
		if err != nil {
			return nil, err
		}

		rows = append(rows, zipRows(resp)...)

		if resp.NextLink == "" {
			return rows, nil
		}
		url = resp.NextLink
	}

	return nil, fmt.Errorf("%w: continuation did not terminate within %d pages", ErrFetchFailed, c.cfg.MaxPages)
}

func (c *Client) fetchPage(ctx context.Context, url, token string, payload []byte) (*QueryResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return nil, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrFetchFailed, resp.StatusCode, string(snippet))
	}

	var page QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrFetchFailed, err)
	}
	return &page, nil
}

// zipRows applies the column-name-to-index mapping once per page and
// turns positional rows into named records.
func zipRows(page *QueryResponse) []Row {
	out := make([]Row, 0, len(page.Rows))
	for _, raw := range page.Rows {
		row := make(Row, len(page.Columns))
		for i, col := range page.Columns {
			if i < len(raw) {
				row[col.Name] = raw[i]
			}
		}
		out = append(out, row)
	}
	return out
}

func isRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
