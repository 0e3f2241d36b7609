// Package places is the client for the external business search provider.
// Calls are issued strictly sequentially; the limiter spaces every attempt
// (success or failure) at one request per second.
package places

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"gapfill/models"
	"gapfill/utils"
)

// Source is the provenance label recorded on every listing acquired here.
const Source = "places"

// Client talks to the places search API.
type Client struct {
	apiURL         string
	apiKey         string
	language       string
	region         string
	perResultPrice decimal.Decimal
	httpClient     *http.Client
	limiter        *rate.Limiter
	logger         *utils.Logger
}

// New creates a Client. The HTTP timeout bounds a single search call; the
// original pipeline ran unbounded, which could stall a whole run on one
// hung connection.
func New(apiURL, apiKey, language, region string, perResultPrice decimal.Decimal, logger *utils.Logger) *Client {
	return &Client{
		apiURL:         apiURL,
		apiKey:         apiKey,
		language:       language,
		region:         region,
		perResultPrice: perResultPrice,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		limiter:        rate.NewLimiter(rate.Every(time.Second), 1),
		logger:         logger,
	}
}

type searchRequest struct {
	Query    string `json:"query"`
	Limit    int    `json:"limit"`
	Language string `json:"language"`
	Region   string `json:"region"`
}

type searchResponse struct {
	Places []models.RawPlace `json:"places"`
}

// Search runs one provider query for up to limit results and returns the
// raw records plus the actual cost (returned count × per-result price).
// The provider may return fewer results than requested, so the actual cost
// can undercut the estimate.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]models.RawPlace, decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, decimal.Zero, fmt.Errorf("places: rate limiter: %w", err)
	}

	body, err := json.Marshal(searchRequest{
		Query:    query,
		Limit:    limit,
		Language: c.language,
		Region:   c.region,
	})
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("places: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("places: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("places: search %q: %w", query, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("places: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decimal.Zero, fmt.Errorf("places: search %q: status %d: %s",
			query, resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed searchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, decimal.Zero, fmt.Errorf("places: decode response: %w", err)
	}

	cost := c.perResultPrice.Mul(decimal.NewFromInt(int64(len(parsed.Places))))
	c.logger.Debug("[places] %q returned %d/%d results, cost $%s",
		query, len(parsed.Places), limit, cost.StringFixed(4))
	return parsed.Places, cost, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
