package application

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/bnema/possync/internal/domain"
	"github.com/bnema/possync/internal/ports"
)

const maxResponseBytes = 8 << 20

type Request struct {
	Method string
	// Path is relative to the API base URL and may carry a query string.
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
	// Anonymous requests are sent without a bearer credential.
	Anonymous bool
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) OK() bool {
	return r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

func (r *Response) DecodeJSON(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Doer is what the orchestrator and services need from the gateway.
type Doer interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// Gateway attaches the access credential to every request and recovers from
// a single 401 by refreshing once and retrying once.
type Gateway struct {
	baseURL   *url.URL
	client    *http.Client
	session   *Session
	refresher *Refresher
	logger    *slog.Logger
	metrics   ports.SyncMetrics
}

var _ Doer = (*Gateway)(nil)

func NewGateway(baseURL string, client *http.Client, session *Session, refresher *Refresher, opts ...Option) (*Gateway, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.New("api base url must use http or https")
	}
	if parsed.Host == "" {
		return nil, errors.New("api base url host is required")
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	if client == nil {
		client = http.DefaultClient
	}

	o := buildOptions(opts)
	return &Gateway{
		baseURL:   parsed,
		client:    client,
		session:   session,
		refresher: refresher,
		logger:    o.logger,
		metrics:   o.metrics,
	}, nil
}

// Do returns every non-401 response as-is. Only transport failures and
// session loss are errors.
func (g *Gateway) Do(ctx context.Context, req Request) (*Response, error) {
	endpoint, err := g.endpoint(req)
	if err != nil {
		return nil, err
	}
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	token := ""
	if !req.Anonymous {
		token, err = g.session.AccessToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("read access token: %w", err)
		}
		if token == "" {
			return nil, domain.ErrNoSession
		}
	}

	resp, err := g.send(ctx, req, endpoint, body, token)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || req.Anonymous {
		return resp, err
	}

	g.logger.Debug("unauthorized, refreshing credential", "endpoint", endpoint)
	refreshed, ok := g.refresher.Refresh(ctx)
	if !ok {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		g.logger.Warn("credential refresh failed, session expired", "endpoint", endpoint)
		if err := g.session.Expire(ctx); err != nil {
			return nil, fmt.Errorf("%w: clear session: %w", domain.ErrSessionExpired, err)
		}
		return nil, domain.ErrSessionExpired
	}

	return g.send(ctx, req, endpoint, body, refreshed)
}

func (g *Gateway) send(ctx context.Context, req Request, endpoint string, body []byte, token string) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for key, values := range req.Header {
		httpReq.Header.Del(key)
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s %s: %w", domain.ErrTransport, method, endpoint, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: read %s %s: %w", domain.ErrTransport, method, endpoint, err)
	}

	g.metrics.GatewayResponse(httpResp.StatusCode)
	g.logger.Debug("request complete", "endpoint", endpoint, "status", httpResp.StatusCode)
	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: payload}, nil
}

func (g *Gateway) endpoint(req Request) (string, error) {
	if req.Path == "" {
		return "", errors.New("request path is required")
	}
	resolved, err := g.baseURL.Parse(strings.TrimPrefix(req.Path, "/"))
	if err != nil {
		return "", fmt.Errorf("parse request path: %w", err)
	}
	if len(req.Query) > 0 {
		query := resolved.Query()
		for key, values := range req.Query {
			for _, value := range values {
				query.Add(key, value)
			}
		}
		resolved.RawQuery = query.Encode()
	}
	return resolved.String(), nil
}

func encodeBody(body any) ([]byte, error) {
	switch typed := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return typed, nil
	case json.RawMessage:
		return typed, nil
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		return encoded, nil
	}
}
