// Package apiclient is the request pipeline for the career API. Every call
// carries the current bearer credential, and an unauthorized response gets
// exactly one recovery attempt before the session is declared ended.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RequestIDHeader carries a per-dispatch correlation id.
const RequestIDHeader = "X-Request-ID"

// renewTimeout bounds a shared renewal, which no single caller can cancel.
const renewTimeout = 30 * time.Second

// errRenewUnsupported is the recovery failure when no Renewer is configured.
var errRenewUnsupported = errors.New("credential renewal not supported")

// TokenStore is the part of the credential store the pipeline uses.
type TokenStore interface {
	Get() (string, bool)
	Set(token string) error
	Clear() error
}

// Renewer forces issuance of a fresh credential.
type Renewer interface {
	Renew(ctx context.Context) (string, error)
}

// Client dispatches API requests.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      TokenStore
	renewer    Renewer
	logger     *zap.Logger

	renewals singleflight.Group

	mu            sync.Mutex
	endedHandlers map[int]func(error)
	nextID        int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRenewer enables forced renewal on unauthorized responses.
func WithRenewer(r Renewer) Option {
	return func(c *Client) { c.renewer = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client for the API rooted at baseURL.
func New(baseURL string, store TokenStore, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		store:         store,
		logger:        zap.NewNop(),
		endedHandlers: make(map[int]func(error)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL }

// HTTPClient returns the underlying HTTP client.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

// OnSessionEnded registers fn to be called after recovery fails and the
// credential has been cleared. The returned func unregisters it.
func (c *Client) OnSessionEnded(fn func(cause error)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.endedHandlers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.endedHandlers, id)
		c.mu.Unlock()
	}
}

// Response is a successful API response with its body fully read.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Do sends a request with an optional JSON body. Non-2xx responses are
// returned as *APIError; a failed recovery returns ErrSessionExpired.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, method, path, payload)
}

// JSON sends in (if non-nil) and decodes the response into out (if non-nil).
func (c *Client) JSON(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.Do(ctx, method, path, in)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) (*Response, error) {
	token := ""
	if !isPublic(ctx) {
		if override, ok := bearerOverride(ctx); ok {
			token = override
		} else if stored, ok := c.store.Get(); ok {
			token = stored
		}
	}

	resp, err := c.dispatch(ctx, method, path, payload, token)
	if err != nil {
		return nil, err
	}

	if resp.Status == http.StatusUnauthorized && !isPublic(ctx) && !retried(ctx) {
		ctx = markRetried(ctx)
		fresh, rerr := c.recover(ctx, token)
		if rerr != nil {
			// A caller that gave up is not a failed renewal.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%s %s: %w", method, path, ctx.Err())
			}
			c.endSession(rerr)
			return nil, fmt.Errorf("%s %s: %w", method, path, ErrSessionExpired)
		}
		return c.do(WithBearer(ctx, fresh), method, path, payload)
	}

	if resp.Status < 200 || resp.Status >= 300 {
		return nil, parseError(resp.Status, resp.Header.Get(RequestIDHeader), resp.Body)
	}
	return resp, nil
}

// recover obtains a credential to re-dispatch with. A credential stored
// since sent was read (a concurrent renewal or login) is reused as-is;
// otherwise concurrent callers share a single renewal. The renewal runs
// detached from any one caller, so a caller that cancels only stops waiting.
func (c *Client) recover(ctx context.Context, sent string) (string, error) {
	if current, ok := c.store.Get(); ok && current != sent {
		return current, nil
	}
	if c.renewer == nil {
		return "", errRenewUnsupported
	}

	ch := c.renewals.DoChan("renew", func() (any, error) {
		if current, ok := c.store.Get(); ok && current != sent {
			return current, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), renewTimeout)
		defer cancel()
		tok, err := c.renewer.Renew(rctx)
		if err != nil {
			return "", err
		}
		if tok == "" {
			return "", errors.New("renewal returned an empty credential")
		}
		if err := c.store.Set(tok); err != nil {
			// The store keeps the value in memory; only persistence failed.
			c.logger.Warn("persist renewed credential failed", zap.Error(err))
		}
		return tok, nil
	})

	select {
	case <-ctx.Done():
		c.logger.Debug("caller stopped waiting for renewal", zap.Error(ctx.Err()))
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			c.logger.Info("credential renewal failed", zap.Error(res.Err))
			return "", res.Err
		}
		c.logger.Debug("credential renewed", zap.Bool("shared", res.Shared))
		return res.Val.(string), nil
	}
}

func (c *Client) endSession(cause error) {
	if err := c.store.Clear(); err != nil {
		c.logger.Warn("clear credential failed", zap.Error(err))
	}
	c.logger.Info("session ended", zap.NamedError("cause", cause))

	c.mu.Lock()
	handlers := make([]func(error), 0, len(c.endedHandlers))
	for _, fn := range c.endedHandlers {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(cause)
	}
}

func (c *Client) dispatch(ctx context.Context, method, path string, payload []byte, token string) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, ctxErr)
		}
		return nil, fmt.Errorf("%s %s: %w: %w", method, path, ErrUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w: %w", method, path, ErrUnreachable, err)
	}

	if resp.Header.Get(RequestIDHeader) == "" {
		resp.Header.Set(RequestIDHeader, requestID)
	}

	c.logger.Debug("api request",
		zap.String("request_id", requestID),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Bool("authenticated", token != ""),
		zap.Duration("duration", time.Since(start)),
	)

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func encodeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		return data, nil
	}
}
