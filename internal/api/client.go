// Package api talks to the remote insurance API and stores damage photos
// in object storage.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/surety/internal/observability"
	"github.com/pitabwire/surety/model"
)

// DefaultTimeout bounds a single API call when the config leaves it unset.
const DefaultTimeout = 10 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// Recorder receives API call outcomes.
type Recorder interface {
	RecordAPIRequest(operation string, status int, duration time.Duration)
	SetAPICircuitBreakerState(state float64)
}

type nopRecorder struct{}

func (nopRecorder) RecordAPIRequest(string, int, time.Duration) {}
func (nopRecorder) SetAPICircuitBreakerState(float64)           {}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	Breaker BreakerSettings
}

// Client is the REST client for the insurance API. Calls are not retried.
type Client struct {
	cfg      ClientConfig
	http     *http.Client
	breaker  *CircuitBreaker
	logger   *zap.Logger
	recorder Recorder
}

// NewClient builds a Client with its own transport and circuit breaker.
func NewClient(cfg ClientConfig, logger *zap.Logger, recorder Recorder) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	c := &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		breaker:  NewCircuitBreaker(cfg.Breaker),
		logger:   logger,
		recorder: recorder,
	}
	c.breaker.OnStateChange = func(s BreakerState) {
		recorder.SetAPICircuitBreakerState(float64(s))
		logger.Warn("insurance api circuit breaker changed state", zap.String("state", s.String()))
	}
	return c
}

// Breaker exposes the client's circuit breaker for health reporting.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

// HealthCheck reports the API as unhealthy while the breaker is open. It
// makes no request.
func (c *Client) HealthCheck(context.Context) error {
	if c.breaker.State() == BreakerOpen {
		return fmt.Errorf("api: circuit breaker open for %s", c.cfg.BaseURL)
	}
	return nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
		Role  string `json:"role"`
	} `json:"user"`
}

// Login exchanges an email and password for tokens and the user record.
func (c *Client) Login(ctx context.Context, email, password string) (model.Tokens, model.User, error) {
	ctx, span := observability.StartSpan(ctx, "api.login", observability.AttrAPIOperation.String("login"))
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	var body loginResponse
	var status int
	status, err = c.do(ctx, "login", http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, &body)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusBadRequest:
		err = model.NewUnauthorizedError("Invalid email or password")
		return model.Tokens{}, model.User{}, err
	case status < 200 || status >= 300:
		err = fmt.Errorf("api: login returned status %d", status)
		return model.Tokens{}, model.User{}, err
	case body.AccessToken == "" || body.User.ID == "":
		err = fmt.Errorf("api: login response is missing the token or user id")
		return model.Tokens{}, model.User{}, err
	}

	tokens := model.Tokens{AccessToken: body.AccessToken, RefreshToken: body.RefreshToken}
	user := model.User{ID: body.User.ID, Name: body.User.Name, Email: body.User.Email, Role: body.User.Role}
	return tokens, user, nil
}

// do sends one request under the circuit breaker and decodes a 2xx JSON
// body into out. It returns the status for the caller to interpret.
func (c *Client) do(ctx context.Context, operation, method, path string, in, out any) (int, error) {
	if err := c.breaker.Allow(); err != nil {
		return 0, model.NewBackendUnavailableError()
	}

	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("api: marshal %s request: %w", operation, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return 0, fmt.Errorf("api: build %s request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if rctx := model.RequestContextFrom(ctx); rctx != nil && rctx.CorrelationID != "" {
		req.Header.Set("X-Correlation-Id", rctx.CorrelationID)
	}
	observability.InjectTraceHeaders(ctx, req.Header)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		c.recorder.RecordAPIRequest(operation, 0, time.Since(start))
		c.logger.Warn("insurance api call failed",
			zap.String("operation", operation),
			zap.Error(err),
		)
		if isTimeout(ctx, err) {
			return 0, model.NewBackendTimeoutError()
		}
		return 0, model.NewBackendUnavailableError()
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.recorder.RecordAPIRequest(operation, resp.StatusCode, time.Since(start))
	if err != nil {
		c.breaker.RecordFailure()
		return 0, fmt.Errorf("api: read %s response: %w", operation, err)
	}

	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure()
		return resp.StatusCode, model.NewBackendUnavailableError()
	}
	c.breaker.RecordSuccess()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("api: decode %s response: %w", operation, err)
		}
	}
	return resp.StatusCode, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
