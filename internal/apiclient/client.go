// Package apiclient executes authenticated calls against the vendor API
// with response-code-driven error classification and a bounded retry
// policy. Authentication endpoints are exempt from retries and live in the
// auth package; everything here operates on already-established sessions.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/brewkit/lmctl/internal/domain"
	"github.com/brewkit/lmctl/internal/installkey"
)

const (
	// DefaultRetryBase is the first transient-retry delay; it doubles per
	// attempt.
	DefaultRetryBase = 500 * time.Millisecond
	// DefaultRetryAttempts bounds retries after the initial request.
	DefaultRetryAttempts = 3
	// DefaultRequestsPerSecond paces outgoing calls so a tight poll loop
	// cannot hammer the vendor.
	DefaultRequestsPerSecond = 5
)

// TokenSource supplies bearer tokens, satisfied by *session.Manager.
type TokenSource interface {
	GetValidToken(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) (string, error)
}

// Config carries construction parameters; zero values select defaults.
type Config struct {
	BaseURL           string
	HTTPClient        *http.Client
	Tokens            TokenSource
	Key               *installkey.Key
	RetryBase         time.Duration
	RetryAttempts     int
	RequestsPerSecond float64
	Logger            *slog.Logger
}

// Client is the resilient vendor API client.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	tokens        TokenSource
	key           *installkey.Key
	retryBase     time.Duration
	retryAttempts int
	limiter       *rate.Limiter
	logger        *slog.Logger

	now func() time.Time
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:       cfg.BaseURL,
		httpClient:    cfg.HTTPClient,
		tokens:        cfg.Tokens,
		key:           cfg.Key,
		retryBase:     cfg.RetryBase,
		retryAttempts: cfg.RetryAttempts,
		limiter:       rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:        cfg.Logger,
		now:           time.Now,
	}
}

// ListMachines returns the machines connected to the account. The endpoint
// has returned both a bare array and a {"things": [...]} wrapper across API
// versions; both are accepted.
func (c *Client) ListMachines(ctx context.Context) ([]domain.Machine, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/things", nil, &raw); err != nil {
		return nil, err
	}

	var machines []domain.Machine
	if err := json.Unmarshal(raw, &machines); err == nil {
		return machines, nil
	}

	var wrapped struct {
		Things []domain.Machine `json:"things"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, &Error{
			Kind:    KindMalformedResponse,
			Message: fmt.Sprintf("unexpected machine list shape: %v", err),
		}
	}
	return wrapped.Things, nil
}

// MachineStatus fetches and interprets the dashboard for one machine.
func (c *Client) MachineStatus(ctx context.Context, serial string) (domain.Status, error) {
	var dash domain.Dashboard
	if err := c.do(ctx, http.MethodGet, "/things/"+serial+"/dashboard", nil, &dash); err != nil {
		return domain.Status{}, err
	}
	st := domain.StatusFromDashboard(dash)
	if st.SerialNumber == "" {
		st.SerialNumber = serial
	}
	return st, nil
}

type machineCommand struct {
	Mode string `json:"mode"`
}

// SetPower switches a machine between brewing mode and standby.
func (c *Client) SetPower(ctx context.Context, serial string, on bool) error {
	mode := "StandBy"
	if on {
		mode = "BrewingMode"
	}
	return c.do(ctx, http.MethodPost, "/things/"+serial+"/command/CoffeeMachineChangeMode", machineCommand{Mode: mode}, nil)
}

// do runs one logical API call: token acquisition, the request itself, one
// 401-triggered refresh-and-retry, and bounded transient retries with
// exponential backoff. A Retry-After header overrides the computed delay.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("apiclient: encode request: %w", err)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryBase
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.Reset()

	refreshed := false
	retries := 0

	for {
		err := c.attempt(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}

		var apiErr *Error
		if !errors.As(err, &apiErr) {
			// Session-layer failures pass through unchanged; no HTTP
			// request was attempted.
			return err
		}

		switch apiErr.Kind {
		case KindUnauthorized:
			// Covers the race where the token expired between validity
			// check and request arrival. Exactly one refresh per call; a
			// second 401 surfaces as-is.
			if refreshed {
				return apiErr
			}
			refreshed = true
			if _, rerr := c.tokens.ForceRefresh(ctx); rerr != nil {
				return rerr
			}
			c.logger.Debug("retrying after token refresh", "path", path)

		case KindTransient, KindUnreachable:
			if retries >= c.retryAttempts {
				return apiErr
			}
			retries++

			delay := bo.NextBackOff()
			if apiErr.RetryAfter > 0 {
				delay = apiErr.RetryAfter
			}
			c.logger.Debug("retrying after transient failure",
				"path", path,
				"status", apiErr.HTTPStatus,
				"attempt", retries,
				"delay", delay,
			)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}

		default:
			return apiErr
		}
	}
}

// attempt performs a single HTTP exchange and classifies the outcome.
func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	token, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("apiclient: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != nil {
		headers, err := c.key.SignedHeaders(c.now())
		if err != nil {
			return fmt.Errorf("apiclient: sign request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindUnreachable, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindUnreachable, Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{
			Kind:       classifyStatus(resp.StatusCode),
			HTTPStatus: resp.StatusCode,
			Message:    responseMessage(raw, resp.StatusCode),
			RetryAfter: retryAfter(resp.Header, c.now()),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{
			Kind:       KindMalformedResponse,
			HTTPStatus: resp.StatusCode,
			Message:    fmt.Sprintf("decode response: %v", err),
		}
	}
	return nil
}

func responseMessage(raw []byte, status int) string {
	var er struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &er); err == nil {
		if er.Message != "" {
			return er.Message
		}
		if er.Error != "" {
			return er.Error
		}
	}
	return http.StatusText(status)
}
