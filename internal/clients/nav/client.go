// Package nav provides a cached HTTP client for the external NAV provider.
package nav

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aristath/fundtrack/internal/clientdata"
	"github.com/aristath/fundtrack/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Provider is the NAV source consumed by the ledger engine
type Provider = domain.NAVProvider

// ErrNotFound is returned when the provider has no NAV for the request
var ErrNotFound = domain.ErrNAVNotFound

// Client talks to the NAV provider over HTTP:
//
//	GET {base}/nav/{asset}?date=YYYY-MM-DD
//	GET {base}/nav/{asset}/latest
//
// Both return {"nav": "...", "accumulated_nav": "...", "date": "YYYY-MM-DD"}; 404 means not found.
type Client struct {
	baseURL   string
	client    *http.Client
	log       zerolog.Logger
	cacheRepo *clientdata.Repository
	latestTTL time.Duration
}

// NewClient creates a new NAV provider client.
// cacheRepo is optional - if nil, caching is disabled
func NewClient(baseURL string, cacheRepo *clientdata.Repository, latestTTL time.Duration, log zerolog.Logger) *Client {
	if latestTTL <= 0 {
		latestTTL = clientdata.TTLLatestNAV
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       log.With().Str("client", "nav-provider").Logger(),
		cacheRepo: cacheRepo,
		latestTTL: latestTTL,
	}
}

// navResponse is the provider's wire format
type navResponse struct {
	NAV            decimal.Decimal  `json:"nav"`
	AccumulatedNAV *decimal.Decimal `json:"accumulated_nav"`
	Date           string           `json:"date"`
}

// cachedQuote is the structure stored in the cache.
// Decimals are kept as strings so the msgpack encoding is exact.
type cachedQuote struct {
	AssetCode      string `msgpack:"asset_code"`
	Date           string `msgpack:"date"`
	NAV            string `msgpack:"nav"`
	AccumulatedNAV string `msgpack:"accumulated_nav,omitempty"`
}

func toCached(q *domain.NAVQuote) cachedQuote {
	c := cachedQuote{
		AssetCode: q.AssetCode,
		Date:      q.Date.Format(time.DateOnly),
		NAV:       q.NAV.String(),
	}
	if q.AccumulatedNAV != nil {
		c.AccumulatedNAV = q.AccumulatedNAV.String()
	}
	return c
}

func (c cachedQuote) toQuote() (*domain.NAVQuote, error) {
	nav, err := decimal.NewFromString(c.NAV)
	if err != nil {
		return nil, err
	}
	date, err := time.Parse(time.DateOnly, c.Date)
	if err != nil {
		return nil, err
	}
	q := &domain.NAVQuote{AssetCode: c.AssetCode, Date: date, NAV: nav}
	if c.AccumulatedNAV != "" {
		acc, err := decimal.NewFromString(c.AccumulatedNAV)
		if err != nil {
			return nil, err
		}
		q.AccumulatedNAV = &acc
	}
	return q, nil
}

// GetNAV fetches the NAV published for a date.
// Historical NAVs are immutable, so a cached value is served without a request.
func (c *Client) GetNAV(ctx context.Context, assetCode string, date time.Time) (*domain.NAVQuote, error) {
	day := date.UTC().Format(time.DateOnly)
	cacheKey := assetCode + ":" + day

	if q, ok := c.getFromCache(cacheKey, true); ok {
		c.log.Debug().Str("asset_code", assetCode).Str("date", day).Msg("Cache hit")
		return q, nil
	}

	endpoint := fmt.Sprintf("%s/nav/%s?date=%s", c.baseURL, url.PathEscape(assetCode), day)
	q, err := c.fetch(ctx, endpoint, assetCode, date)
	if err != nil {
		return c.fallback(cacheKey, assetCode, err)
	}

	c.store(cacheKey, q, clientdata.TTLHistoricalNAV)
	return q, nil
}

// GetLatestNAV fetches the most recent NAV, cached for the configured TTL.
func (c *Client) GetLatestNAV(ctx context.Context, assetCode string) (*domain.NAVQuote, error) {
	cacheKey := assetCode + ":latest"

	if q, ok := c.getFromCache(cacheKey, true); ok {
		return q, nil
	}

	endpoint := fmt.Sprintf("%s/nav/%s/latest", c.baseURL, url.PathEscape(assetCode))
	q, err := c.fetch(ctx, endpoint, assetCode, time.Now())
	if err != nil {
		return c.fallback(cacheKey, assetCode, err)
	}

	c.store(cacheKey, q, c.latestTTL)
	c.log.Info().
		Str("asset_code", assetCode).
		Str("nav", q.NAV.String()).
		Msg("Fetched latest NAV")
	return q, nil
}

func (c *Client) fetch(ctx context.Context, endpoint, assetCode string, requested time.Time) (*domain.NAVQuote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("NAV request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("NAV provider returned status %d", resp.StatusCode)
	}

	var body navResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse NAV response: %w", err)
	}
	if !body.NAV.IsPositive() {
		return nil, fmt.Errorf("NAV provider returned non-positive nav %s for %s", body.NAV.String(), assetCode)
	}

	date := requested.UTC()
	if body.Date != "" {
		if parsed, err := time.Parse(time.DateOnly, body.Date); err == nil {
			date = parsed
		}
	}

	return &domain.NAVQuote{
		AssetCode:      assetCode,
		Date:           time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC),
		NAV:            body.NAV,
		AccumulatedNAV: body.AccumulatedNAV,
	}, nil
}

// fallback serves stale cached data for transport failures. Not-found is authoritative.
func (c *Client) fallback(cacheKey, assetCode string, cause error) (*domain.NAVQuote, error) {
	if errors.Is(cause, ErrNotFound) {
		return nil, cause
	}
	if q, ok := c.getFromCache(cacheKey, false); ok {
		c.log.Warn().
			Err(cause).
			Str("asset_code", assetCode).
			Str("nav", q.NAV.String()).
			Msg("NAV provider failed, using stale cached value")
		return q, nil
	}
	return nil, cause
}

func (c *Client) getFromCache(cacheKey string, freshOnly bool) (*domain.NAVQuote, bool) {
	if c.cacheRepo == nil {
		return nil, false
	}

	var cached cachedQuote
	var found bool
	var err error
	if freshOnly {
		found, err = c.cacheRepo.GetIfFresh(clientdata.TableNAVQuotes, cacheKey, &cached)
	} else {
		found, err = c.cacheRepo.Get(clientdata.TableNAVQuotes, cacheKey, &cached)
	}
	if err != nil || !found {
		return nil, false
	}

	q, err := cached.toQuote()
	if err != nil {
		return nil, false
	}
	return q, true
}

func (c *Client) store(cacheKey string, q *domain.NAVQuote, ttl time.Duration) {
	if c.cacheRepo == nil {
		return
	}
	if err := c.cacheRepo.Store(clientdata.TableNAVQuotes, cacheKey, toCached(q), ttl); err != nil {
		c.log.Warn().Err(err).Str("key", cacheKey).Msg("Failed to cache NAV")
	}
}
