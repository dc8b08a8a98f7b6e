// Package chat consumes the assistant's streamed replies and renders them
// progressively into a transcript.
package chat

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

	"github.com/ashureev/careerguide/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrorMarker replaces the assistant's partial reply when the stream fails.
const ErrorMarker = "[Error receiving stream]"

const readBufferSize = 4096

var (
	// ErrExchangeInProgress is returned by Send while another exchange is
	// still streaming.
	ErrExchangeInProgress = errors.New("chat: exchange in progress")

	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("chat: message is required")

	// ErrStreamFailed wraps transport failures and non-2xx responses.
	ErrStreamFailed = errors.New("chat: stream failed")

	// ErrCancelled is returned when the exchange was cancelled by the user.
	ErrCancelled = errors.New("chat: exchange cancelled")
)

// State is the lifecycle of the current exchange.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TokenSource supplies the bearer credential.
type TokenSource interface {
	Get() (string, bool)
}

// Update is delivered to observers after every change to the assistant entry.
type Update struct {
	State   State
	Content string
}

// Consumer runs one exchange at a time against the chat stream endpoint.
type Consumer struct {
	url        string
	httpClient *http.Client
	tokens     TokenSource
	logger     *zap.Logger
	transcript *Transcript

	mu        sync.Mutex
	state     State
	cancel    context.CancelFunc
	cancelled bool

	obsMu     sync.Mutex
	observers []func(Update)
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithHTTPClient replaces the default client. Streams can be long lived, so
// the client should not set an overall Timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Consumer) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Consumer) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a consumer for the API rooted at baseURL.
func New(baseURL string, tokens TokenSource, opts ...Option) *Consumer {
	c := &Consumer{
		url:        strings.TrimRight(baseURL, "/") + "/chat/stream",
		httpClient: &http.Client{},
		tokens:     tokens,
		logger:     zap.NewNop(),
		transcript: &Transcript{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcript returns the conversation.
func (c *Consumer) Transcript() *Transcript { return c.transcript }

// State returns the state of the most recent exchange.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnUpdate registers fn for progress updates. fn runs on the goroutine
// calling Send and must not call Send.
func (c *Consumer) OnUpdate(fn func(Update)) {
	c.obsMu.Lock()
	c.observers = append(c.observers, fn)
	c.obsMu.Unlock()
}

// Send posts text and streams the reply into the transcript, returning the
// final assistant content. It blocks until the stream ends, fails or is
// cancelled through Cancel or ctx.
func (c *Consumer) Send(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyMessage
	}

	c.mu.Lock()
	if c.state == StateStreaming {
		c.mu.Unlock()
		return "", ErrExchangeInProgress
	}
	ctx, cancel := context.WithCancel(ctx)
	c.state = StateStreaming
	c.cancel = cancel
	c.cancelled = false
	c.mu.Unlock()
	defer cancel()

	token, _ := c.tokens.Get()
	c.transcript.append(domain.RoleUser, text)
	c.transcript.append(domain.RoleAssistant, "")
	c.emit(Update{State: StateStreaming})

	content, err := c.stream(ctx, text, token)
	return c.finish(ctx, content, err)
}

// Cancel stops the active exchange, keeping whatever text has arrived. It is
// a no-op when nothing is streaming.
func (c *Consumer) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateStreaming || c.cancel == nil {
		return
	}
	c.cancelled = true
	c.cancel()
}

// stream performs the request and read loop. The response body is closed
// before it returns.
func (c *Consumer) stream(ctx context.Context, text, token string) (string, error) {
	payload, err := json.Marshal(map[string]string{"message": text})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("X-Request-ID", requestID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStreamFailed, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close chat stream", zap.Error(cerr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Info("chat stream rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("request_id", requestID),
			zap.ByteString("body", bytes.TrimSpace(detail)))
		return "", fmt.Errorf("%w: status %d", ErrStreamFailed, resp.StatusCode)
	}

	// The decoder holds back a rune split across reads and turns invalid
	// bytes into U+FFFD.
	body := transform.NewReader(resp.Body, unicode.UTF8.NewDecoder())
	var (
		acc strings.Builder
		buf = make([]byte, readBufferSize)
	)
	for {
		if err := ctx.Err(); err != nil {
			return acc.String(), fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		n, rerr := body.Read(buf)
		if n > 0 {
			// Text that arrives after a cancel is dropped.
			if err := ctx.Err(); err != nil {
				return acc.String(), fmt.Errorf("%w: %w", ErrCancelled, err)
			}
			acc.Write(buf[:n])
			c.publish(acc.String())
		}
		if errors.Is(rerr, io.EOF) {
			return acc.String(), nil
		}
		if rerr != nil {
			return acc.String(), fmt.Errorf("%w: %w", ErrStreamFailed, rerr)
		}
	}
}

func (c *Consumer) finish(ctx context.Context, content string, err error) (string, error) {
	c.mu.Lock()
	// A cancel wins over whatever the read loop saw last.
	cancelled := c.cancelled || ctx.Err() != nil
	switch {
	case cancelled:
		c.state = StateCancelled
	case err == nil:
		c.state = StateCompleted
	default:
		c.state = StateFailed
	}
	state := c.state
	c.cancel = nil
	c.mu.Unlock()

	switch state {
	case StateCompleted:
		c.logger.Debug("chat exchange completed", zap.Int("bytes", len(content)))
		c.emit(Update{State: state, Content: content})
		return content, nil
	case StateCancelled:
		c.logger.Debug("chat exchange cancelled", zap.Int("bytes", len(content)))
		c.emit(Update{State: state, Content: content})
		return content, ErrCancelled
	default:
		c.logger.Warn("chat stream failed", zap.Error(err))
		c.transcript.replaceLastAssistant(ErrorMarker)
		c.emit(Update{State: state, Content: ErrorMarker})
		return ErrorMarker, err
	}
}

func (c *Consumer) publish(content string) {
	c.transcript.replaceLastAssistant(content)
	c.emit(Update{State: StateStreaming, Content: content})
}

func (c *Consumer) emit(u Update) {
	c.obsMu.Lock()
	fns := make([]func(Update), len(c.observers))
	copy(fns, c.observers)
	c.obsMu.Unlock()
	for _, fn := range fns {
		fn(u)
	}
}
