package client

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

	"github.com/hashicorp/go-cleanhttp"
	"github.com/rs/zerolog"
)

var (
	ErrTokenStillValid = errors.New("token still valid")
	ErrUnavailable     = errors.New("token unavailable")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrTokenInvalid    = errors.New("token invalid")
	ErrTokenRequest    = errors.New("failed to reach token server")
	ErrTokenResponse   = errors.New("invalid token server response")
)

// Status is the server's view of the account's token.
type Status struct {
	Valid     bool
	ExpiresAt time.Time
}

// Token is a freshly issued raw token.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

type Client struct {
	baseURL    *url.URL
	username   string
	password   string
	httpClient *http.Client
	logger     zerolog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default pooled client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

func New(
	baseURL string,
	username string,
	password string,
	opts ...Option,
) (
	*Client,
	error,
) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url scheme %q", u.Scheme)
	}

	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = 30 * time.Second

	c := &Client{
		baseURL:    u,
		username:   username,
		password:   password,
		httpClient: httpClient,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type response struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

func (c *Client) CheckToken(ctx context.Context) (*Status, error) {
	code, resp, err := c.do(ctx, http.MethodGet, "/check-token", nil)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, statusError(code, resp)
	}

	switch resp.Status {
	case "valid":
		expiresAt, err := parseTime(resp.ExpiresAt)
		if err != nil {
			return nil, err
		}
		return &Status{Valid: true, ExpiresAt: expiresAt}, nil
	case "expired_or_not_found":
		return &Status{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrTokenResponse, resp.Status)
	}
}

// FetchToken asks for a new token. It fails with ErrTokenStillValid while
// the current one has not expired.
func (c *Client) FetchToken(ctx context.Context) (*Token, error) {
	code, resp, err := c.do(ctx, http.MethodPost, "/fetch-token", nil)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, statusError(code, resp)
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrTokenResponse)
	}

	expiresAt, err := parseTime(resp.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &Token{Value: resp.Token, ExpiresAt: expiresAt}, nil
}

// VerifyToken checks token against the account's current token. A
// mismatch or an expired token yields ErrTokenInvalid.
func (c *Client) VerifyToken(ctx context.Context, token string) (*Status, error) {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return nil, err
	}

	code, resp, err := c.do(ctx, http.MethodPost, "/verify-token", body)
	if err != nil {
		return nil, err
	}
	if code == http.StatusUnauthorized && resp.Status == "invalid" {
		return nil, ErrTokenInvalid
	}
	if code != http.StatusOK {
		return nil, statusError(code, resp)
	}

	expiresAt, err := parseTime(resp.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &Status{Valid: true, ExpiresAt: expiresAt}, nil
}

func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	body []byte,
) (
	int,
	response,
	error,
) {
	endpoint := c.baseURL.JoinPath(path).String()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, response{}, fmt.Errorf("%w: %v", ErrTokenRequest, err)
	}
	req.SetBasicAuth(c.username, c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().Str("method", method).Str("url", endpoint).Msg("client.request")
	res, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("url", endpoint).Msg("client.request_failed")
		return 0, response{}, fmt.Errorf("%w: %v", ErrTokenRequest, err)
	}
	defer res.Body.Close()

	var resp response
	if err := json.NewDecoder(io.LimitReader(res.Body, 64<<10)).Decode(&resp); err != nil && res.StatusCode != http.StatusNotFound {
		return res.StatusCode, response{}, fmt.Errorf("%w: %v", ErrTokenResponse, err)
	}
	return res.StatusCode, resp, nil
}

func statusError(code int, resp response) error {
	switch code {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrTokenStillValid
	case http.StatusInternalServerError:
		if resp.Message == "could not obtain token" {
			return ErrUnavailable
		}
	}
	return fmt.Errorf("%w: status %d: %s", ErrTokenResponse, code, resp.Message)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad expiresAt %q", ErrTokenResponse, s)
	}
	return t, nil
}
