package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/rs/zerolog/log"
)

const DefaultExternalTimeout = 10 * time.Second

// tokenResponse is the payload returned by the external issuer.
type tokenResponse struct {
	Token string `json:"token"`
}

// ExternalClient obtains raw tokens from an external issuer keyed by
// username. It never retries; every failure is reported as ErrNotAvailable.
type ExternalClient struct {
	endpoint   *url.URL
	httpClient *http.Client
}

func NewExternalClient(
	endpoint string,
	timeout time.Duration,
) (
	*ExternalClient,
	error,
) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing external issuer endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("external issuer endpoint must be http(s), got %q", endpoint)
	}
	if timeout <= 0 {
		timeout = DefaultExternalTimeout
	}

	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = timeout

	return &ExternalClient{
		endpoint:   u,
		httpClient: httpClient,
	}, nil
}

func (c *ExternalClient) Obtain(
	ctx context.Context,
	username string,
) (
	string,
	error,
) {
	logger := log.Ctx(ctx).With().
		Str("source", "external").
		Str("endpoint", c.endpoint.Host).
		Logger()

	reqURL := *c.endpoint
	q := reqURL.Query()
	q.Set("username", username)
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		logger.Warn().Err(err).Msg("external.request.build_failed")
		return "", fmt.Errorf("%w: creating request: %v", ErrNotAvailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("external.request.transport_failed")
		return "", fmt.Errorf("%w: performing request: %v", ErrNotAvailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Warn().Int("status", resp.StatusCode).Msg("external.request.bad_status")
		return "", fmt.Errorf("%w: unexpected status code: %d", ErrNotAvailable, resp.StatusCode)
	}

	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		logger.Warn().Err(err).Msg("external.response.malformed")
		return "", fmt.Errorf("%w: decoding response: %v", ErrNotAvailable, err)
	}
	if payload.Token == "" {
		logger.Warn().Msg("external.response.missing_token")
		return "", fmt.Errorf("%w: response has no token field", ErrNotAvailable)
	}

	return payload.Token, nil
}
