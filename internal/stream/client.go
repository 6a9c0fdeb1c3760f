package stream

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
	"sync"

	"arclight/internal/models"
)

// ErrAborted is returned by Stream.Next once the caller cancelled the turn.
// It marks an expected outcome, not a failure.
var ErrAborted = errors.New("stream aborted")

// TransportError is a network failure or non-success proxy response.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ChatRequest is the submit-turn request body.
type ChatRequest struct {
	ConversationID string           `json:"conversationId"`
	Messages       []models.Message `json:"messages"`
	Model          string           `json:"model"`
}

// Transport opens a turn's event stream and lists models.
type Transport interface {
	Chat(ctx context.Context, req ChatRequest) (EventStream, error)
	ListModels(ctx context.Context) []models.ModelOption
}

// EventStream is a lazy, finite, ordered sequence of events.
type EventStream interface {
	Next() (Event, error)
	Close() error
}

// Client talks to the arclight proxy over HTTP. It never retries.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a proxy client. Pass nil httpClient or logger for defaults.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger.With("component", "transport"),
	}
}

// Chat posts the turn and returns its event stream. Cancelling ctx aborts
// the request; Next then reports ErrAborted.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (EventStream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrAborted
		}
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: errors.New(readErrorBody(resp.Body))}
	}

	return &Stream{
		ctx:    ctx,
		body:   resp.Body,
		reader: NewReader(resp.Body),
		logger: c.logger,
	}, nil
}

func readErrorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	if s := strings.TrimSpace(string(data)); s != "" {
		return s
	}
	return "empty response body"
}

// ListModels fetches the model picker entries. Failures degrade to an empty
// list.
func (c *Client) ListModels(ctx context.Context) []models.ModelOption {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/models", nil)
	if err != nil {
		c.logger.Warn("failed to build models request", "error", err)
		return []models.ModelOption{}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Warn("failed to fetch models", "error", err)
		return []models.ModelOption{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("models request failed", "status", resp.StatusCode)
		return []models.ModelOption{}
	}

	var opts []models.ModelOption
	if err := json.NewDecoder(resp.Body).Decode(&opts); err != nil {
		c.logger.Warn("failed to decode models", "error", err)
		return []models.ModelOption{}
	}
	if opts == nil {
		return []models.ModelOption{}
	}
	return opts
}

// Stream is the response side of one Chat call.
type Stream struct {
	ctx    context.Context
	body   io.ReadCloser
	reader *Reader
	logger *slog.Logger

	closeOnce sync.Once
	done      bool
}

// Next returns the next event. It returns io.EOF after the stream ends,
// ErrAborted after cancellation and *TransportError on network failure.
// Malformed frames are logged and skipped.
func (s *Stream) Next() (Event, error) {
	if s.done {
		return Event{}, io.EOF
	}
	for {
		if s.ctx.Err() != nil {
			s.finish()
			return Event{}, ErrAborted
		}

		ev, err := s.reader.ReadEvent()
		switch {
		case err == nil:
			return ev, nil
		case s.ctx.Err() != nil:
			s.finish()
			return Event{}, ErrAborted
		case errors.Is(err, ErrMalformedEvent):
			s.logger.Warn("dropping malformed stream frame", "error", err)
			continue
		case errors.Is(err, io.EOF):
			s.finish()
			return Event{}, io.EOF
		default:
			s.finish()
			return Event{}, &TransportError{Err: err}
		}
	}
}

func (s *Stream) finish() {
	s.done = true
	_ = s.Close()
}

func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
	})
	return err
}
