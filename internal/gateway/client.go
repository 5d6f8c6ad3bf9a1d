// Package gateway executes operations against the upstream compute gateway. Reads are served from a result cache
// when possible, transient failures are retried, and successful mutations invalidate the affected cache entries.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cyverse/cloudgw/internal/cache"
	"github.com/cyverse/cloudgw/internal/model"
	"github.com/cyverse/cloudgw/internal/monitoring"
	"github.com/cyverse/cloudgw/logging"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logging.GetLogger().WithFields(logrus.Fields{"package": "gateway"})

// maxResponseSize limits how much of an upstream response body is read.
const maxResponseSize = 8 << 20

// TokenSource mints the bearer tokens sent with every request.
type TokenSource interface {
	Mint(p model.Principal) (string, error)
}

// Settings contains the gateway client configuration.
type Settings struct {
	BaseURL       string
	Timeout       time.Duration
	Retries       int
	RetryInterval time.Duration
	ListTTL       time.Duration
	GetTTL        time.Duration
	CatalogTTL    time.Duration
	MetricsTTL    time.Duration
	HTTPClient    *http.Client
}

// Client executes operations against the upstream gateway. It's safe for concurrent use.
type Client struct {
	baseURL       *url.URL
	httpClient    *http.Client
	tokens        TokenSource
	cache         cache.Cache
	timeout       time.Duration
	retries       int
	retryInterval time.Duration
	listTTL       time.Duration
	getTTL        time.Duration
	catalogTTL    time.Duration
	metricsTTL    time.Duration
}

// New creates a new gateway client.
func New(s Settings, tokens TokenSource, c cache.Cache) (*Client, error) {
	baseURL, err := url.Parse(s.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid gateway base URL")
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("gateway base URL must be absolute: %s", s.BaseURL)
	}
	if tokens == nil {
		return nil, errors.New("a token source is required")
	}
	if s.Retries < 0 {
		return nil, errors.New("the retry count must not be negative")
	}
	if s.RetryInterval <= 0 {
		return nil, errors.New("the retry interval must be positive")
	}

	httpClient := s.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL:       baseURL,
		httpClient:    httpClient,
		tokens:        tokens,
		cache:         c,
		timeout:       s.Timeout,
		retries:       s.Retries,
		retryInterval: s.RetryInterval,
		listTTL:       s.ListTTL,
		getTTL:        s.GetTTL,
		catalogTTL:    s.CatalogTTL,
		metricsTTL:    s.MetricsTTL,
	}, nil
}

// route returns the HTTP method and path for an operation.
func route(op Operation, serverID int64) (string, []string, error) {
	id := strconv.FormatInt(serverID, 10)
	switch op {
	case OpList:
		return http.MethodGet, []string{"servers"}, nil
	case OpGet:
		return http.MethodGet, []string{"servers", id}, nil
	case OpCreate:
		return http.MethodPost, []string{"servers"}, nil
	case OpDelete:
		return http.MethodDelete, []string{"servers", id}, nil
	case OpPower:
		return http.MethodPost, []string{"servers", id, "power"}, nil
	case OpMetrics:
		return http.MethodGet, []string{"servers", id, "metrics"}, nil
	case OpServerTypes:
		return http.MethodGet, []string{"server-types"}, nil
	case OpLocations:
		return http.MethodGet, []string{"locations"}, nil
	case OpBackup:
		return http.MethodPost, []string{"servers", id, "actions"}, nil
	default:
		return "", nil, fmt.Errorf("unsupported gateway operation: %s", op)
	}
}

// cacheEntry describes where the result of a read operation is cached.
type cacheEntry struct {
	key  string
	ttl  time.Duration
	tags []string
}

func (c *Client) cacheEntryFor(op Operation, p model.Principal, serverID int64) *cacheEntry {
	id := strconv.FormatInt(serverID, 10)
	switch op {
	case OpList:
		return &cacheEntry{cache.ListKey(p.ID), c.listTTL, []string{cache.UserTag(p.ID), cache.TagServers}}
	case OpGet:
		return &cacheEntry{
			cache.GetKey(p.ID, id), c.getTTL,
			[]string{cache.UserTag(p.ID), cache.ResourceTag(id), cache.TagServers},
		}
	case OpMetrics:
		return &cacheEntry{cache.MetricsKey(p.ID, id), c.metricsTTL, []string{cache.UserTag(p.ID), cache.ResourceTag(id)}}
	case OpServerTypes:
		return &cacheEntry{cache.ServerTypesKey, c.catalogTTL, nil}
	case OpLocations:
		return &cacheEntry{cache.LocationsKey, c.catalogTTL, nil}
	default:
		return nil
	}
}

// lookup decodes a cached result into out. It returns false on a miss or if the cached value can't be decoded.
func (c *Client) lookup(entry *cacheEntry, out interface{}) bool {
	if c.cache == nil || entry == nil {
		return false
	}
	body, ok := c.cache.Get(entry.key)
	monitoring.RecordCacheLookup(ok)
	if !ok {
		return false
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			log.WithField("context", "cache-lookup").Warnf("discarding undecodable cache entry %s: %s", entry.key, err)
			_ = c.cache.Invalidate(entry.key)
			return false
		}
	}
	return true
}

// store caches a raw result. Cache failures only cost latency, so they're logged and otherwise ignored.
func (c *Client) store(entry *cacheEntry, body []byte) {
	if c.cache == nil || entry == nil || entry.ttl <= 0 {
		return
	}
	if err := c.cache.Put(entry.key, body, entry.ttl, entry.tags...); err != nil {
		log.WithField("context", "cache-store").Warnf("unable to cache %s: %s", entry.key, err)
	}
}

// invalidateAfter removes the cache entries made stale by a successful mutation.
func (c *Client) invalidateAfter(op Operation, p model.Principal, serverID int64) {
	if c.cache == nil {
		return
	}
	log := log.WithFields(logrus.Fields{"context": "cache-invalidate", "operation": op})

	keys := []string{cache.ListKey(p.ID)}
	var tags []string
	if op != OpCreate {
		id := strconv.FormatInt(serverID, 10)
		keys = append(keys, cache.GetKey(p.ID, id), cache.MetricsKey(p.ID, id))
		tags = append(tags, cache.ResourceTag(id))
	}

	for _, key := range keys {
		if err := c.cache.Invalidate(key); err != nil {
			log.Errorf("unable to invalidate %s: %s", key, err)
		}
	}
	for _, tag := range tags {
		if err := c.cache.InvalidateTag(tag); err != nil {
			log.Errorf("unable to invalidate tag %s: %s", tag, err)
		}
	}
}

// Execute runs an operation on behalf of a principal and decodes the response body into out, which may be nil.
func (c *Client) Execute(ctx context.Context, op Operation, p model.Principal, payload Payload, out interface{}) error {
	method, segments, err := route(op, payload.ServerID)
	if err != nil {
		return err
	}
	endpoint := c.baseURL.JoinPath(segments...)

	entry := c.cacheEntryFor(op, p, payload.ServerID)
	if op.IsRead() && c.lookup(entry, out) {
		return nil
	}

	token, err := c.tokens.Mint(p)
	if err != nil {
		return errors.Wrap(err, "unable to mint a gateway token")
	}

	var requestBody []byte
	if payload.Body != nil {
		if requestBody, err = json.Marshal(payload.Body); err != nil {
			return errors.Wrap(err, "unable to encode the gateway request body")
		}
	}

	log := log.WithFields(logrus.Fields{
		"context":   "execute",
		"operation": op,
		"endpoint":  endpoint.Path,
		"principal": p.ID,
	})

	start := time.Now()
	var responseBody []byte
	attempt := func() error {
		var err error
		responseBody, err = c.attempt(ctx, op, method, endpoint, token, requestBody, out)
		return err
	}
	notify := func(err error, wait time.Duration) {
		monitoring.RecordGatewayRetry(string(op))
		log.Warnf("retrying in %s after a transient failure: %s", wait, err)
	}

	err = backoff.RetryNotify(attempt, backoff.WithContext(c.newBackOff(), ctx), notify)
	if err != nil {
		outcome := monitoring.OutcomeRejected
		if gerr, ok := AsGatewayError(err); ok {
			if gerr.Retryable {
				outcome = monitoring.OutcomeTransient
			} else if gerr.Status >= 200 && gerr.Status < 300 {
				outcome = monitoring.OutcomeDecode
			}
			log.WithFields(logrus.Fields{"status": gerr.Status, "retryable": gerr.Retryable}).Errorf(
				"gateway call failed: %s", gerr.Message,
			)
		} else {
			err = &GatewayError{
				Operation: op,
				Endpoint:  endpoint.Path,
				Message:   err.Error(),
				Retryable: true,
				Err:       err,
			}
			outcome = monitoring.OutcomeTransient
			log.Errorf("gateway call abandoned: %s", err)
		}
		monitoring.RecordGatewayRequest(string(op), outcome, time.Since(start))
		return err
	}
	monitoring.RecordGatewayRequest(string(op), monitoring.OutcomeSuccess, time.Since(start))

	if op.IsRead() {
		c.store(entry, responseBody)
	}
	if op.IsMutation() {
		c.invalidateAfter(op, p, payload.ServerID)
	}

	return nil
}

// newBackOff returns the policy used between attempts: exponential, starting at the retry interval and capped at
// eight times that, with at most the configured number of retries.
func (c *Client) newBackOff() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.retryInterval,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         8 * c.retryInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(c.retries))
}

// attempt performs a single HTTP exchange. Errors that must not be retried are wrapped with backoff.Permanent.
func (c *Client) attempt(
	ctx context.Context,
	op Operation,
	method string,
	endpoint *url.URL,
	token string,
	body []byte,
	out interface{},
) ([]byte, error) {
	fail := func(status int, msg string, retryable bool, cause error) error {
		gerr := &GatewayError{
			Operation: op,
			Endpoint:  endpoint.Path,
			Status:    status,
			Message:   msg,
			Retryable: retryable,
			Err:       cause,
		}
		if retryable {
			return gerr
		}
		return backoff.Permanent(gerr)
	}

	attemptCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, endpoint.String(), reader)
	if err != nil {
		return nil, fail(0, err.Error(), false, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The caller's own cancellation ends the call; anything else is a network failure worth retrying.
		if ctx.Err() != nil {
			return nil, backoff.Permanent(&GatewayError{
				Operation: op,
				Endpoint:  endpoint.Path,
				Message:   ctx.Err().Error(),
				Retryable: true,
				Err:       ctx.Err(),
			})
		}
		return nil, fail(0, err.Error(), true, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fail(resp.StatusCode, "unable to read the response body: "+err.Error(), true, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fail(resp.StatusCode, detailMessage(resp.StatusCode, responseBody), isTransientStatus(resp.StatusCode), nil)
	}

	if len(bytes.TrimSpace(responseBody)) == 0 {
		responseBody = []byte("null")
	}
	if out != nil {
		if err := json.Unmarshal(responseBody, out); err != nil {
			return nil, fail(resp.StatusCode, "unable to decode the response body: "+err.Error(), false, err)
		}
	} else if !json.Valid(responseBody) {
		return nil, fail(resp.StatusCode, "the response body is not valid JSON", false, nil)
	}

	return responseBody, nil
}

// detailMessage extracts the error detail from an upstream error response.
func detailMessage(status int, body []byte) string {
	var parsed struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		var detail string
		if len(parsed.Detail) > 0 && json.Unmarshal(parsed.Detail, &detail) == nil && detail != "" {
			return detail
		}
		if len(parsed.Detail) > 0 && string(parsed.Detail) != "null" {
			return string(parsed.Detail)
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return http.StatusText(status)
}
