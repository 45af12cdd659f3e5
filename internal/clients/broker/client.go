// Package broker implements the brokerage HTTP API client: OAuth token
// lifecycle, per-process rate limiting, bounded retries, and the typed
// endpoints the pipeline consumes.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

const (
	// requestGap enforces the upstream's 20 req/s cap: one request every
	// 50ms, no bursts.
	requestGap = 50 * time.Millisecond

	maxRetries     = 5
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 8 * time.Second

	requestTimeout = 30 * time.Second

	tokenPath = "/oauth2/tokenP"
)

// Config holds broker client configuration.
type Config struct {
	BaseURL        string
	AppKey         string
	AppSecret      string
	TokenCachePath string
}

// Client is the brokerage API client. The rate limiter is per-instance so
// tests can run independent clients; within one process all pipeline stages
// share a single instance, which makes the limiter effectively global.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	tokens     *TokenManager
	log        zerolog.Logger

	now func() time.Time
}

// New creates a broker client.
func New(cfg Config, log zerolog.Logger) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Every(requestGap), 1),
		log:        log.With().Str("client", "broker").Logger(),
		now:        time.Now,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "broker-api",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
		Timeout: 30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Upstream circuit breaker state change")
		},
	})
	c.tokens = NewTokenManager(cfg.TokenCachePath, c, log)
	return c
}

// Tokens exposes the token manager (status reporting, forced refresh).
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

// GetTokenStatus reports the cached token lifecycle state.
func (c *Client) GetTokenStatus() TokenStatus {
	return c.tokens.Status()
}

// issueToken requests a fresh access token. The issuance endpoint is subject
// to a one-per-day cap upstream; a 403 is mapped to AuthRefused so the token
// manager can fall back to a valid cache.
func (c *Client) issueToken() (string, time.Time, error) {
	body := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.cfg.AppKey,
		"appsecret":  c.cfg.AppSecret,
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}

	err := c.doWithRetry(context.Background(), func() error {
		status, raw, err := c.doHTTP(context.Background(), http.MethodPost, tokenPath, "", nil, body, false)
		if err != nil {
			return err
		}
		if status == http.StatusForbidden {
			return domain.NewAuthRefusedError("token issuance refused", nil)
		}
		if status != http.StatusOK {
			return domain.NewTransientError(fmt.Sprintf("token issuance returned HTTP %d", status), nil)
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return domain.NewTransientError("malformed token response", err)
		}
		if out.AccessToken == "" {
			return domain.NewTransientError("empty access token in response", nil)
		}
		return nil
	})
	if err != nil {
		return "", time.Time{}, err
	}

	expiresIn := out.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 24 * 60 * 60 // Declared 24-hour validity
	}
	return out.AccessToken, c.now().Add(time.Duration(expiresIn) * time.Second), nil
}

// envelope is the common business-status wrapper on every API response.
// rt_cd "0" means success; anything else is a business error.
type envelope struct {
	RtCd  string `json:"rt_cd"`
	MsgCd string `json:"msg_cd"`
	Msg1  string `json:"msg1"`
}

// call performs an authenticated GET against an API endpoint, retrying
// transient failures, and decodes the JSON body into out (which should embed
// envelope or redeclare rt_cd).
func (c *Client) call(ctx context.Context, trID, path string, query url.Values, out interface{}) error {
	return c.doWithRetry(ctx, func() error {
		return c.authedJSON(ctx, http.MethodGet, trID, path, query, nil, out)
	})
}

// post performs an authenticated POST (orders), with the same retry policy.
func (c *Client) post(ctx context.Context, trID, path string, body interface{}, out interface{}) error {
	return c.doWithRetry(ctx, func() error {
		return c.authedJSON(ctx, http.MethodPost, trID, path, nil, body, out)
	})
}

func (c *Client) authedJSON(ctx context.Context, method, trID, path string, query url.Values, body, out interface{}) error {
	token, err := c.tokens.AccessToken(false)
	if err != nil {
		return err
	}

	status, raw, err := c.doHTTP(ctx, method, path, trID, query, body, true, token)
	if err != nil {
		return err
	}

	switch {
	case status == http.StatusUnauthorized:
		// Token rejected server-side despite local validity: drop the cache
		// so the next attempt re-issues.
		c.tokens.Invalidate()
		return domain.NewTransientError("unauthorized, token cache invalidated", nil)
	case status >= 500:
		return domain.NewTransientError(fmt.Sprintf("upstream HTTP %d", status), nil)
	case status != http.StatusOK:
		return domain.NewValidationError(fmt.Sprintf("upstream HTTP %d for %s", status, path))
	}

	if len(raw) == 0 {
		return domain.NewTransientError("empty response payload", nil)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.NewTransientError("malformed response envelope", err)
	}
	if env.RtCd != "0" {
		return domain.NewValidationError(fmt.Sprintf("business error %s (%s): %s", env.RtCd, env.MsgCd, env.Msg1))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return domain.NewTransientError("malformed response body", err)
		}
	}
	return nil
}

// doHTTP executes one rate-limited HTTP exchange through the circuit breaker
// and returns (status, body, error). Authenticated calls carry the bearer
// token plus appkey/appsecret/tr_id headers.
func (c *Client) doHTTP(ctx context.Context, method, path, trID string, query url.Values, body interface{}, authed bool, token ...string) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("rate limiter interrupted: %w", err)
	}

	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if authed {
		req.Header.Set("authorization", "Bearer "+token[0])
		req.Header.Set("appkey", c.cfg.AppKey)
		req.Header.Set("appsecret", c.cfg.AppSecret)
		req.Header.Set("tr_id", trID)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, domain.NewTransientError("request failed", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, domain.NewTransientError("failed to read response", err)
		}
		// 5xx counts as a breaker failure; 4xx is a caller problem and
		// should not trip the breaker.
		if resp.StatusCode >= 500 {
			return httpResult{resp.StatusCode, raw}, domain.NewTransientError(fmt.Sprintf("upstream HTTP %d", resp.StatusCode), nil)
		}
		return httpResult{resp.StatusCode, raw}, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return 0, nil, domain.NewTransientError("upstream circuit breaker open", err)
		}
		if res, ok := result.(httpResult); ok {
			return res.status, res.body, err
		}
		return 0, nil, err
	}

	res := result.(httpResult)
	return res.status, res.body, nil
}

type httpResult struct {
	status int
	body   []byte
}

// doWithRetry retries transient failures with exponential backoff
// (0.5s, 1s, 2s, 4s, 8s). Validation and business errors return immediately.
func (c *Client) doWithRetry(ctx context.Context, fn func() error) error {
	backoff := initialBackoff
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !domain.IsKind(err, domain.KindTransient) {
			return err
		}
		if attempt == maxRetries {
			break
		}

		c.log.Debug().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Transient upstream failure, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return lastErr
}
