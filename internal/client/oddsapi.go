package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"papp/ingestion/internal/errs"
	"papp/ingestion/internal/metrics"
	"papp/ingestion/internal/models"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is The Odds API v4 root
const DefaultBaseURL = "https://api.the-odds-api.com/v4"

// Client is The Odds API client
type Client struct {
	baseURL        string
	apiKey         string
	regions        string
	scoresDaysFrom int
	httpClient     *http.Client
	rateLimiter    chan struct{} // Concurrency semaphore
	maxRetries     int
	retryDelay     time.Duration
	validate       *validator.Validate
}

// Option customises a Client
type Option func(*Client)

// WithRegions sets the bookmaker regions requested for odds
func WithRegions(regions string) Option {
	return func(c *Client) { c.regions = regions }
}

// WithMaxRetries sets how many times retryable responses are retried
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithRetryDelay sets the base backoff delay
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// WithMaxConcurrency bounds in-flight requests
func WithMaxConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.rateLimiter = newSemaphore(n)
		}
	}
}

// WithScoresDaysFrom sets how many days back the scores endpoint looks
func WithScoresDaysFrom(days int) Option {
	return func(c *Client) { c.scoresDaysFrom = days }
}

func newSemaphore(n int) chan struct{} {
	sem := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		sem <- struct{}{}
	}
	return sem
}

// NewClient creates a new odds provider client. Every request is bounded by timeout.
func NewClient(baseURL, apiKey string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		regions:        "eu",
		scoresDaysFrom: 3,
		rateLimiter:    newSemaphore(5),
		maxRetries:     2,
		retryDelay:     1 * time.Second,
		validate:       validator.New(),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get performs a GET request with retry logic and bounded concurrency.
// endpoint is the metrics label for the call.
func (c *Client) get(ctx context.Context, endpoint, path string, params url.Values) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 1s, 2s, 4s
			backoff := c.retryDelay * time.Duration(1<<uint(attempt-1))
			log.Info().
				Str("endpoint", endpoint).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Retrying API request after backoff")

			select {
			case <-ctx.Done():
				return nil, contextError(endpoint, ctx.Err())
			case <-time.After(backoff):
			}
		}

		body, retryable, err := c.do(ctx, endpoint, path, params, attempt)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *Client) do(ctx context.Context, endpoint, path string, params url.Values, attempt int) ([]byte, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, contextError(endpoint, ctx.Err())
	case <-c.rateLimiter:
	}
	defer func() { c.rateLimiter <- struct{}{} }()

	query := url.Values{}
	for k, v := range params {
		query[k] = v
	}
	query.Set("apiKey", c.apiKey)
	fullURL := fmt.Sprintf("%s/%s?%s", c.baseURL, strings.TrimLeft(path, "/"), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, false, &errs.ProviderError{Op: endpoint, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "papp-ingestion/1.0")

	log.Debug().
		Str("endpoint", endpoint).
		Str("path", path).
		Int("attempt", attempt+1).
		Msg("Making API request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordAPICall(endpoint, "transport_error", time.Since(start).Seconds())
		if ctx.Err() != nil {
			return nil, false, contextError(endpoint, ctx.Err())
		}
		return nil, true, &errs.ProviderError{Op: endpoint, Timeout: isTimeout(err), Err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	c.recordQuota(resp.Header)

	body, err := io.ReadAll(resp.Body)
	metrics.RecordAPICall(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())
	if err != nil {
		return nil, true, &errs.ProviderError{Op: endpoint, Timeout: isTimeout(err), Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		log.Debug().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Int("size", len(body)).
			Msg("API request successful")
		return body, false, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		log.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Int("attempt", attempt+1).
			Msg("Received retryable error")
		return nil, true, &errs.ProviderError{Op: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("retryable status: %s", truncate(body))}

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, false, &errs.ProviderError{Op: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("authentication failed: %s", truncate(body))}

	default:
		return nil, false, &errs.ProviderError{Op: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status: %s", truncate(body))}
	}
}

func (c *Client) recordQuota(h http.Header) {
	remaining, errR := strconv.ParseFloat(h.Get("X-Requests-Remaining"), 64)
	used, errU := strconv.ParseFloat(h.Get("X-Requests-Used"), 64)
	if errR != nil || errU != nil {
		return
	}
	metrics.RecordQuota(remaining, used)
	log.Debug().
		Float64("remaining", remaining).
		Float64("used", used).
		Msg("Provider quota")
}

func contextError(endpoint string, err error) error {
	return &errs.ProviderError{Op: endpoint, Timeout: errors.Is(err, context.DeadlineExceeded), Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// ListScheduledEvents fetches upcoming events for a league.
// Events missing an id, teams or kickoff are dropped.
func (c *Client) ListScheduledEvents(ctx context.Context, league string) ([]models.Event, error) {
	path := fmt.Sprintf("sports/%s/events", url.PathEscape(league))
	body, err := c.get(ctx, "events", path, url.Values{"dateFormat": {"iso"}})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events for %s: %w", league, err)
	}

	var raw []models.Event
	if err := sonic.Unmarshal(body, &raw); err != nil {
		return nil, &errs.ProviderError{Op: "events", Err: fmt.Errorf("failed to unmarshal events: %w", err)}
	}

	events := make([]models.Event, 0, len(raw))
	for _, e := range raw {
		if err := c.validate.Struct(e); err != nil {
			log.Warn().
				Err(err).
				Str("league", league).
				Str("provider_id", e.ID).
				Msg("Dropping invalid event")
			continue
		}
		e.CommenceTime = e.CommenceTime.UTC()
		events = append(events, e)
	}

	return events, nil
}

// FetchOdds fetches current odds for one event. It returns nil when the
// provider has no odds for the event.
func (c *Client) FetchOdds(ctx context.Context, eventID, league string, markets []models.MarketKind) (*models.EventOdds, error) {
	keys := make([]string, 0, len(markets))
	for _, m := range markets {
		keys = append(keys, string(m))
	}
	if len(keys) == 0 {
		keys = append(keys, string(models.MarketH2H))
	}

	params := url.Values{
		"regions":    {c.regions},
		"markets":    {strings.Join(keys, ",")},
		"oddsFormat": {"decimal"},
		"dateFormat": {"iso"},
		"eventIds":   {eventID},
	}
	path := fmt.Sprintf("sports/%s/odds", url.PathEscape(league))
	body, err := c.get(ctx, "odds", path, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch odds for %s: %w", eventID, err)
	}

	var list []models.EventOdds
	if err := sonic.Unmarshal(body, &list); err != nil {
		return nil, &errs.ProviderError{Op: "odds", Err: fmt.Errorf("failed to unmarshal odds: %w", err)}
	}

	for i := range list {
		if list[i].ID == eventID {
			return &list[i], nil
		}
	}
	return nil, nil
}

// FetchScores fetches the score state of one event. It returns nil when the
// provider does not report the event.
func (c *Client) FetchScores(ctx context.Context, eventID, league string) (*models.EventScore, error) {
	params := url.Values{
		"daysFrom":   {strconv.Itoa(c.scoresDaysFrom)},
		"dateFormat": {"iso"},
		"eventIds":   {eventID},
	}
	path := fmt.Sprintf("sports/%s/scores", url.PathEscape(league))
	body, err := c.get(ctx, "scores", path, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch scores for %s: %w", eventID, err)
	}

	var list []models.EventScore
	if err := sonic.Unmarshal(body, &list); err != nil {
		return nil, &errs.ProviderError{Op: "scores", Err: fmt.Errorf("failed to unmarshal scores: %w", err)}
	}

	for i := range list {
		if list[i].ID == eventID {
			return &list[i], nil
		}
	}
	return nil, nil
}
