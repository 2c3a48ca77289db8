package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Nish7156/loyalty-client/internal/tokenstore"
	apperrors "github.com/Nish7156/loyalty-client/pkg/errors"
	"github.com/Nish7156/loyalty-client/pkg/httpclient"
	"github.com/Nish7156/loyalty-client/pkg/tracing"
)

// TokenScope selects which bearer token, if any, a request carries.
type TokenScope int

const (
	ScopeNone TokenScope = iota
	ScopeCustomer
	ScopeStaff
)

// Doer is the transport behind the client; both httpclient.Client and
// httpclient.BreakerClient satisfy it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client is the single request path to the loyalty backend. It attaches the
// appropriate bearer token, translates non-2xx responses into typed errors,
// and enforces the stale-session rule: a customer-scoped call that comes
// back unauthorized or not-found clears the customer token and fires the
// session-expired handler, so no screen keeps rendering with a revoked
// session.
type Client struct {
	baseURL string
	http    Doer
	tokens  *tokenstore.Store
	logger  *slog.Logger
	tracer  trace.Tracer

	onSessionExpired func()
}

// New creates a Client. baseURL has no trailing slash semantics; both forms
// are accepted.
func New(baseURL string, doer Doer, tokens *tokenstore.Store, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    doer,
		tokens:  tokens,
		logger:  logger,
		tracer:  tracing.Tracer("loyalty-client/api"),
	}
}

// OnSessionExpired registers the handler invoked after the customer token
// has been cleared due to an auth failure. The front-end uses it to navigate
// back to the entry screen.
func (c *Client) OnSessionExpired(fn func()) {
	c.onSessionExpired = fn
}

// do executes one request. A nil out skips body decoding; 204 responses
// resolve to an empty result without touching the body.
func (c *Client) do(ctx context.Context, method, path string, body any, scope TokenScope, out any) error {
	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("%s %s", method, path),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		))
	defer span.End()

	var reqBody io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	tokenAttached := c.attachToken(req, scope)

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := httpclient.ParseResponseError(resp)
		span.SetStatus(codes.Error, apiErr.Error())

		if scope == ScopeCustomer && tokenAttached && isStaleSession(resp.StatusCode) {
			c.expireCustomerSession(apiErr)
			return apperrors.SessionExpired(apperrors.UserMessage(apiErr))
		}
		return apiErr
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent || out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) attachToken(req *http.Request, scope TokenScope) bool {
	var kind tokenstore.Kind
	switch scope {
	case ScopeCustomer:
		kind = tokenstore.KindCustomer
	case ScopeStaff:
		kind = tokenstore.KindStaff
	default:
		return false
	}

	token, ok := c.tokens.Token(kind)
	if !ok {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return true
}

// isStaleSession: unauthorized means the token was rejected; not-found on a
// customer-scoped resource means the session's subject is gone. Either way
// the stored session is useless.
func isStaleSession(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusNotFound
}

func (c *Client) expireCustomerSession(cause error) {
	if err := c.tokens.Clear(tokenstore.KindCustomer); err != nil {
		c.logger.Warn("failed to clear customer token", slog.String("error", err.Error()))
	}
	c.logger.Info("customer session expired", slog.String("cause", cause.Error()))
	if c.onSessionExpired != nil {
		c.onSessionExpired()
	}
}

// IsSessionExpired reports whether err is the forced-logout error produced
// by a stale customer session.
func IsSessionExpired(err error) bool {
	return errors.Is(err, apperrors.ErrSessionExpired)
}
