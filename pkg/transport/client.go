// Package transport executes dispatcher jobs against the CRM REST API over
// HTTP, with an optional Redis-backed credit guard and response cache.
package transport

import (
	"bytes"
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

	"github.com/Sternrassler/crm-bulk-client/pkg/api"
	"github.com/Sternrassler/crm-bulk-client/pkg/cache"
	"github.com/Sternrassler/crm-bulk-client/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for CRM requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_requests_total",
		Help: "Total CRM requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crm_request_duration_seconds",
		Help:    "CRM request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_errors_total",
		Help: "Total CRM errors by class",
	}, []string{"class"})
)

// Client is an HTTP executor for the CRM REST API.
type Client struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	config      Config
	logger      zerolog.Logger
}

// Config holds the transport configuration.
type Config struct {
	// BaseURL is the API root, e.g. https://www.zohoapis.com/crm/v2 (REQUIRED).
	BaseURL string `yaml:"baseURL"`

	// Token is sent as "Authorization: Zoho-oauthtoken <token>" when set.
	Token string `yaml:"token"`

	// UserAgent header (REQUIRED).
	UserAgent string `yaml:"userAgent"`

	// Timeout bounds each HTTP round trip.
	Timeout time.Duration `yaml:"timeout"`

	// Redis enables the shared credit guard, and the cache when CacheEnabled.
	Redis *redis.Client `yaml:"-"`

	// CacheEnabled stores GET responses in Redis and revalidates them.
	CacheEnabled bool `yaml:"cacheEnabled"`

	// CacheScope separates cache entries of different organizations.
	CacheScope string `yaml:"cacheScope"`
}

// DefaultConfig returns a configuration with a 30 second timeout and no Redis.
func DefaultConfig(baseURL, token, userAgent string) Config {
	return Config{
		BaseURL:   baseURL,
		Token:     token,
		UserAgent: userAgent,
		Timeout:   30 * time.Second,
	}
}

// New creates a transport client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, api.Configurationf("base URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, api.Configurationf("invalid base URL %q: %v", cfg.BaseURL, err)
	}
	if cfg.UserAgent == "" {
		return nil, api.Configurationf("user-agent is required")
	}
	if cfg.CacheEnabled && cfg.Redis == nil {
		return nil, api.Configurationf("cache requires a redis client")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	logger := log.With().Str("component", "transport").Logger()

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		logger:     logger,
	}
	if cfg.Redis != nil {
		c.rateLimiter = ratelimit.NewTracker(cfg.Redis, logger)
	}
	if cfg.CacheEnabled {
		c.cache = cache.NewManager(cfg.Redis)
	}

	logger.Info().
		Str("base_url", cfg.BaseURL).
		Bool("credit_guard", c.rateLimiter != nil).
		Bool("cache", c.cache != nil).
		Msg("CRM transport initialized")

	return c, nil
}

// request is one resolved HTTP call.
type request struct {
	method   string
	module   string
	endpoint string
	url      string
	body     []byte
	headers  http.Header

	// cacheKey is set for cacheable reads.
	cacheKey *cache.Key

	// invalidates is set for writes.
	invalidates bool
}

// Execute performs one remote call. Every HTTP status is returned as a
// response; only failed round trips and blocked requests are errors.
func (c *Client) Execute(ctx context.Context, apiMethod, requestMethod string, payload api.Payload) (*api.Response, error) {
	r, err := c.build(apiMethod, requestMethod, payload)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, r)
}

// build maps a job onto its endpoint.
func (c *Client) build(apiMethod, requestMethod string, payload api.Payload) (*request, error) {
	if apiMethod != api.MethodModules {
		return nil, fmt.Errorf("%w: api method %q", ErrUnsupportedMethod, apiMethod)
	}

	switch p := payload.(type) {
	case api.LookupPayload:
		if requestMethod != api.RequestGet {
			break
		}
		q := cloneValues(p.Params)
		q.Set("ids", strings.Join(p.IDs, ","))
		return c.read(p.ModuleName, "", q, nil), nil

	case api.PagePayload:
		q := url.Values{}
		q.Set("page", strconv.Itoa(p.Page))
		q.Set("per_page", strconv.Itoa(p.PerPage))
		switch requestMethod {
		case api.RequestGet:
			return c.read(p.ModuleName, "", q, p.Headers), nil
		case api.RequestSearch:
			q.Set("criteria", p.Criteria)
			return c.read(p.ModuleName, "search", q, p.Headers), nil
		}

	case api.UpdatePayload:
		if requestMethod != api.RequestPut {
			break
		}
		body, err := json.Marshal(map[string][]api.Record{"data": p.Records})
		if err != nil {
			return nil, fmt.Errorf("encode update body: %w", err)
		}
		return &request{
			method:      http.MethodPut,
			module:      p.ModuleName,
			endpoint:    "put:" + p.ModuleName,
			url:         c.moduleURL(p.ModuleName, "", nil),
			body:        body,
			headers:     http.Header{"Content-Type": []string{"application/json"}},
			invalidates: true,
		}, nil
	}

	return nil, fmt.Errorf("%w: %s with %T", ErrUnsupportedMethod, requestMethod, payload)
}

func (c *Client) read(module, suffix string, q url.Values, headers http.Header) *request {
	kind := suffix
	if kind == "" {
		kind = cache.DefaultKind
	}

	r := &request{
		method:   http.MethodGet,
		module:   module,
		endpoint: kind + ":" + module,
		url:      c.moduleURL(module, suffix, q),
		headers:  headers.Clone(),
	}
	if r.headers == nil {
		r.headers = http.Header{}
	}
	if c.cache != nil && !cache.HasConditionalHeaders(r.headers) {
		r.cacheKey = &cache.Key{Module: module, Kind: kind, Query: q, Scope: c.config.CacheScope}
	}
	return r
}

func (c *Client) moduleURL(module, suffix string, q url.Values) string {
	u := c.config.BaseURL + "/" + url.PathEscape(module)
	if suffix != "" {
		u += "/" + suffix
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// do runs the request through the credit guard and cache.
func (c *Client) do(ctx context.Context, r *request) (*api.Response, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(r.endpoint).Observe(time.Since(startTime).Seconds())
	}()

	if c.rateLimiter != nil {
		allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
		if err != nil {
			return nil, fmt.Errorf("rate limit check: %w", err)
		}
		if !allowed {
			c.logger.Warn().Str("endpoint", r.endpoint).Msg("Request blocked by credit guard")
			requestsTotal.WithLabelValues(r.endpoint, "rate_limited").Inc()
			errorsTotal.WithLabelValues(string(api.ErrorClassRateLimit)).Inc()
			return nil, ErrRateLimited
		}
	}

	var bodyReader io.Reader
	if r.body != nil {
		bodyReader = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for name, values := range r.headers {
		req.Header[name] = values
	}

	var cached *cache.Entry
	if r.cacheKey != nil {
		entry, err := c.cache.Get(ctx, *r.cacheKey)
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("endpoint", r.endpoint).Msg("Cache get error")
		}
		if entry != nil && cache.ShouldMakeConditionalRequest(entry) {
			cached = entry
			cache.AddConditionalHeaders(req, entry)
			cache.ConditionalRequestsSent.Inc()
			c.logger.Debug().
				Str("endpoint", r.endpoint).
				Str("etag", entry.ETag).
				Msg("Making conditional request")
		}
	}

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Zoho-oauthtoken "+c.config.Token)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("endpoint", r.endpoint).
		Str("method", r.method).
		Msg("Executing CRM request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("endpoint", r.endpoint).Msg("HTTP request failed")
		errorsTotal.WithLabelValues(string(api.ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(r.endpoint, "network_error").Inc()
		return nil, &RequestError{Method: r.method, Module: r.module, Class: api.ErrorClassNetwork, Err: err}
	}
	defer resp.Body.Close()

	if c.rateLimiter != nil {
		if err := c.rateLimiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update credit state from headers")
		}
	}

	requestsTotal.WithLabelValues(r.endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusNotModified && cached != nil {
		c.logger.Debug().
			Str("endpoint", r.endpoint).
			Dur("age", cached.Age(time.Now())).
			Msg("304 Not Modified - using cache")
		cache.NotModifiedResponses.Inc()
		if err := c.cache.UpdateTTL(ctx, *r.cacheKey, cache.Expiry(resp.Header)); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update cache TTL")
		}
		return &api.Response{StatusCode: http.StatusOK, Body: cached.Body}, nil
	}

	var body []byte
	if r.cacheKey != nil && cache.Cacheable(resp) {
		entry, err := cache.ResponseToEntry(resp)
		if err != nil {
			return nil, &RequestError{Method: r.method, Module: r.module, Class: api.ErrorClassNetwork, Err: err}
		}
		body = entry.Body
		if err := c.cache.Set(ctx, *r.cacheKey, entry); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		}
	} else {
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			errorsTotal.WithLabelValues(string(api.ErrorClassNetwork)).Inc()
			return nil, &RequestError{Method: r.method, Module: r.module, Class: api.ErrorClassNetwork, Err: fmt.Errorf("read body: %w", err)}
		}
	}

	if class := api.ClassifyStatus(resp.StatusCode); class != "" && resp.StatusCode != http.StatusNotFound {
		errorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Str("endpoint", r.endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("CRM request error")
	}

	if r.invalidates && c.cache != nil && (resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted) {
		removed, err := c.cache.InvalidateModule(ctx, r.module)
		if err != nil {
			c.logger.Warn().Err(err).Str("module", r.module).Msg("Failed to invalidate module cache")
		} else if removed > 0 {
			c.logger.Debug().Str("module", r.module).Int("removed", removed).Msg("Invalidated module cache")
		}
	}

	return &api.Response{StatusCode: resp.StatusCode, Body: body}, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+1)
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
