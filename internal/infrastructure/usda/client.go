// Package usda is a rate-limited client for the USDA FoodData Central API,
// used as an optional source of ingredient densities.
package usda

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/macrolens/larder/internal/domain"
)

const (
	defaultBaseURL    = "https://api.nal.usda.gov/fdc"
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	baseBackoff       = 500 * time.Millisecond

	// searchDataTypes are the data types that carry household measures.
	searchDataTypes = "Foundation,SR Legacy,Survey (FNDDS)"
)

// Config configures a Client.
type Config struct {
	APIKey  string
	BaseURL string
	// RequestsPerSecond defaults to the USDA limit of 1000 requests per hour.
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	MaxRetries        int
}

// Client handles communication with the USDA FoodData Central API
type Client struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	rateLimiter *rate.Limiter
	maxRetries  int
	backoff     func(attempt int) time.Duration
	log         *zap.Logger
	debug       bool
}

// NewClient creates a new USDA API client
func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1000.0 / 3600.0
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		maxRetries:  cfg.MaxRetries,
		backoff:     exponentialBackoff,
		log:         log.Named("usda"),
	}
}

// SetDebug toggles per-request debug logging.
func (c *Client) SetDebug(debug bool) {
	c.debug = debug
}

// exponentialBackoff doubles the wait per attempt starting at 500ms.
func exponentialBackoff(attempt int) time.Duration {
	return baseBackoff << (attempt - 1)
}

// SearchFoods searches for foods in the USDA database
func (c *Client) SearchFoods(ctx context.Context, query string) (*domain.USDASearchResponse, error) {
	params := url.Values{}
	params.Add("query", query)
	params.Add("api_key", c.apiKey)
	params.Add("dataType", searchDataTypes)
	params.Add("pageSize", "10")
	reqURL := fmt.Sprintf("%s/v1/foods/search?%s", c.baseURL, params.Encode())

	body, err := c.getWithRetry(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var searchResp domain.USDASearchResponse
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("%w: decode search response: %v", domain.ErrUSDAAPIFailure, err)
	}
	if len(searchResp.Foods) == 0 {
		if c.debug {
			c.log.Debug("no foods found", zap.String("query", query))
		}
		return nil, domain.ErrFoodNotFound
	}

	if c.debug {
		c.log.Debug("search results", zap.String("query", query), zap.Int("foods", len(searchResp.Foods)))
	}
	return &searchResp, nil
}

// GetFoodDetails retrieves one food, including its household portions.
func (c *Client) GetFoodDetails(ctx context.Context, fdcID int) (*domain.USDAFood, error) {
	params := url.Values{}
	params.Add("api_key", c.apiKey)
	reqURL := fmt.Sprintf("%s/v1/food/%s?%s", c.baseURL, strconv.Itoa(fdcID), params.Encode())

	body, err := c.getWithRetry(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var food domain.USDAFood
	if err := json.Unmarshal(body, &food); err != nil {
		return nil, fmt.Errorf("%w: decode food details: %v", domain.ErrUSDAAPIFailure, err)
	}
	return &food, nil
}

// getWithRetry performs a rate-limited GET, retrying transient failures.
// 404 is final and maps to ErrFoodNotFound.
func (c *Client) getWithRetry(ctx context.Context, reqURL string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		body, status, err := c.doRequest(ctx, reqURL)
		switch {
		case err != nil:
			lastErr = err
		case status == http.StatusNotFound:
			return nil, domain.ErrFoodNotFound
		case status != http.StatusOK:
			lastErr = fmt.Errorf("%w: status %d", domain.ErrUSDAAPIFailure, status)
		default:
			return body, nil
		}

		c.log.Warn("usda request failed",
			zap.Int("attempt", attempt),
			zap.Int("status", status),
			zap.Error(lastErr),
		)

		if attempt == c.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.backoff(attempt)):
		}
	}
	return nil, lastErr
}

// doRequest executes an HTTP GET request and returns the body and status.
func (c *Client) doRequest(ctx context.Context, reqURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Larder/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrUSDAAPIFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read body: %v", domain.ErrUSDAAPIFailure, err)
	}
	return body, resp.StatusCode, nil
}
