package auth

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

	"github.com/bnema/possync/internal/domain"
	"github.com/bnema/possync/internal/ports"
)

const maxTokenResponseBytes = 1 << 20

var ErrInvalidCredentials = errors.New("invalid username or password")

type API struct {
	BaseURL     string
	ObtainPath  string
	RefreshPath string
}

func DefaultAPI(baseURL string) API {
	return API{
		BaseURL:     baseURL,
		ObtainPath:  "token/",
		RefreshPath: "token/refresh/",
	}
}

// TokenClient talks to the token endpoints. It never touches the session store.
type TokenClient struct {
	API            API
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

var _ ports.TokenExchanger = TokenClient{}

type obtainRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type obtainResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access string `json:"access"`
}

type apiErrorResponse struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

func (c TokenClient) ObtainTokens(ctx context.Context, username, password string) (domain.Tokens, error) {
	if username == "" || password == "" {
		return domain.Tokens{}, errors.New("username and password are required")
	}

	var payload obtainResponse
	status, err := c.postJSON(ctx, c.API.ObtainPath, obtainRequest{Username: username, Password: password}, &payload)
	if err != nil {
		if status == http.StatusUnauthorized || status == http.StatusBadRequest {
			return domain.Tokens{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		return domain.Tokens{}, fmt.Errorf("obtain tokens: %w", err)
	}
	if payload.Access == "" || payload.Refresh == "" {
		return domain.Tokens{}, errors.New("token response missing required fields")
	}

	return domain.Tokens{Access: payload.Access, Refresh: payload.Refresh}, nil
}

func (c TokenClient) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", errors.New("refresh token is required")
	}

	var payload refreshResponse
	if _, err := c.postJSON(ctx, c.API.RefreshPath, refreshRequest{Refresh: refreshToken}, &payload); err != nil {
		return "", fmt.Errorf("refresh access token: %w", err)
	}
	if payload.Access == "" {
		return "", errors.New("refresh response missing access token")
	}

	return payload.Access, nil
}

func (c TokenClient) postJSON(ctx context.Context, path string, body any, out any) (int, error) {
	endpoint, err := buildAPIURL(c.API.BaseURL, path)
	if err != nil {
		return 0, err
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}

	requestCtx, cancel := c.requestContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return resp.StatusCode, errors.New(decodeAPIError(resp))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenResponseBytes)).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode token response: %w", err)
	}

	return resp.StatusCode, nil
}

func (c TokenClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c TokenClient) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	requestTimeout := c.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	return context.WithTimeout(ctx, requestTimeout)
}

func decodeAPIError(resp *http.Response) string {
	var apiErr apiErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenResponseBytes)).Decode(&apiErr); err != nil {
		return fmt.Sprintf("status %d", resp.StatusCode)
	}
	return formatAPIError(resp.StatusCode, apiErr)
}

func formatAPIError(statusCode int, apiErr apiErrorResponse) string {
	if apiErr.Detail == "" {
		return fmt.Sprintf("status %d", statusCode)
	}
	if apiErr.Code != "" {
		return fmt.Sprintf("status %d: %s: %s", statusCode, apiErr.Code, apiErr.Detail)
	}
	return fmt.Sprintf("status %d: %s", statusCode, apiErr.Detail)
}

func buildAPIURL(baseURL string, path string) (string, error) {
	if baseURL == "" {
		return "", errors.New("api base url is required")
	}
	if path == "" {
		return "", errors.New("api path is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse api base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("api base url must use http or https")
	}
	if parsed.Host == "" {
		return "", errors.New("api base url host is required")
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}

	endpoint, err := parsed.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", fmt.Errorf("parse api path: %w", err)
	}
	return endpoint.String(), nil
}
