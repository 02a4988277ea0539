package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/autorent-leon/consoleauth/permission"
)

const (
	loginPath      = "user-control/login"
	registerPath   = "user-control/register"
	permissionPath = "user-control/permission"

	maxBodyBytes = 1 << 20
)

// RequestIDHeader carries a per-request UUID for backend log correlation.
const RequestIDHeader = "X-Request-ID"

// Config configures a [Client].
type Config struct {
	// BaseURL is the API root, e.g. http://localhost:8000/api/v1/.
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// LoginRequest is the login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is what the backend returns on login.
type LoginResponse struct {
	Status  string `json:"status,omitempty"`
	Token   string `json:"token"`
	Message string `json:"message,omitempty"`
}

// RegisterRequest is the registration payload.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterResponse is what the backend returns on registration.
type RegisterResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type statusBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type permissionsBody struct {
	Permissions json.RawMessage `json:"permissions"`
}

// Client talks to the backend's user-control endpoints. It is safe for
// concurrent use.
type Client struct {
	base      *url.URL
	http      *http.Client
	userAgent string
	log       logr.Logger
}

// Option customizes a [Client].
type Option func(*Client)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(log logr.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// New creates a Client for cfg.
func New(cfg Config, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.New("API base URL must be http or https")
	}
	if base.Host == "" {
		return nil, errors.New("API base URL has no host")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	c := &Client{
		base:      base,
		http:      &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		log:       logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithName("authapi")
	return c, nil
}

// Login exchanges credentials for a session token. The response always
// carries a token when err is nil.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	const op = "login"
	var out LoginResponse
	if err := c.do(ctx, op, http.MethodPost, loginPath, "", req, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Token) == "" {
		return nil, &Error{Op: op, StatusCode: 0, Message: out.Message, Err: ErrUnexpectedResponse}
	}
	return &out, nil
}

// Register creates an account. The backend e-mails an activation link; the
// account cannot log in until it is activated.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	var out RegisterResponse
	if err := c.do(ctx, "register", http.MethodPost, registerPath, "", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchPermissions returns the permission Set for token. It implements
// [permission.Fetcher].
func (c *Client) FetchPermissions(ctx context.Context, token string) (permission.Set, error) {
	const op = "permissions"
	var body permissionsBody
	if err := c.do(ctx, op, http.MethodGet, permissionPath, token, nil, &body); err != nil {
		return permission.Set{}, err
	}
	if len(body.Permissions) == 0 {
		return permission.Set{}, &Error{Op: op, Err: ErrUnexpectedResponse}
	}

	var set permission.Set
	if err := json.Unmarshal(body.Permissions, &set); err != nil {
		return permission.Set{}, &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)}
	}
	return set, nil
}

func (c *Client) do(ctx context.Context, op, method, path, token string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return &Error{Op: op, Err: err}
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), body)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.V(1).Info("request failed", "op", op, "requestID", requestID, "error", err.Error())
		return &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
	}
	c.log.V(1).Info("request done", "op", op, "requestID", requestID, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var sb statusBody
		_ = json.Unmarshal(raw, &sb)
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: sb.Message, Err: ErrStatus}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)}
	}
	return nil
}
