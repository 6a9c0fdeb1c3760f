package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arclight/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriterReaderRoundTrip(t *testing.T) {
	events := []Event{
		MessageStart("msg-1"),
		PartStart("r1", models.PartReasoning),
		PartDelta("r1", "think\nmore"),
		PartEnd("r1"),
		PartStart("t1", models.PartText),
		PartDelta("t1", "Hel"),
		PartDelta("t1", "lo"),
		PartEnd("t1"),
		MessageEnd("stop"),
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, ev := range events {
		require.NoError(t, w.WriteEvent(ev))
	}
	require.NoError(t, w.WriteComment("keep-alive"))

	r := NewReader(&buf)
	var got []Event
	for {
		ev, err := r.ReadEvent()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, ev)
	}
	assert.Equal(t, events, got)
}

func TestReadFrameHandlesCommentsCRLFAndMultilineData(t *testing.T) {
	raw := ": hello\r\n" +
		"event: part-delta\r\n" +
		"id: 7\r\n" +
		"data: {\"partId\":\"p\",\r\n" +
		"data: \"delta\":\"x\"}\r\n" +
		"\r\n" +
		"data: {\"type\":\"message-end\"}"

	r := NewReader(strings.NewReader(raw))

	name, data, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "part-delta", name)
	assert.Equal(t, "{\"partId\":\"p\",\n\"delta\":\"x\"}", string(data))

	ev, err := r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, EventMessageEnd, ev.Type)

	_, err = r.ReadEvent()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodeUsesEventNameWhenTypeMissing(t *testing.T) {
	ev, err := decodeEvent("part-end", []byte(`{"partId":"p1"}`))
	require.NoError(t, err)
	assert.Equal(t, PartEnd("p1"), ev)

	_, err = decodeEvent("", []byte(`{"partId":"p1"}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = decodeEvent("x", []byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestUnknownTypeDecodesButFailsValidation(t *testing.T) {
	ev, err := decodeEvent("", []byte(`{"type":"tool-call"}`))
	require.NoError(t, err)
	assert.ErrorIs(t, ev.Validate(), ErrUnknownEvent)
}

func TestEventValidate(t *testing.T) {
	assert.NoError(t, MessageStart("").Validate())
	assert.NoError(t, PartStart("p", models.PartText).Validate())
	assert.NoError(t, ImageStart("p", "data:image/png;base64,AA").Validate())
	assert.ErrorIs(t, PartStart("", models.PartText).Validate(), ErrMalformedEvent)
	assert.ErrorIs(t, PartStart("p", "audio").Validate(), ErrMalformedEvent)
	assert.ErrorIs(t, PartStart("p", models.PartImage).Validate(), ErrMalformedEvent)
	assert.ErrorIs(t, PartDelta("", "x").Validate(), ErrMalformedEvent)
	assert.True(t, MessageEnd("").Terminal())
	assert.True(t, ErrorEvent("boom").Terminal())
	assert.False(t, PartEnd("p").Terminal())
}

func TestReadFrameRejectsOversizedFrames(t *testing.T) {
	raw := "data: " + strings.Repeat("a", MaxFrameSize+1) + "\n\n"
	_, _, err := NewReader(strings.NewReader(raw)).ReadFrame()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

// endlessLine never produces a newline.
type endlessLine struct{ read int }

func (e *endlessLine) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'a'
	}
	e.read += len(p)
	return len(p), nil
}

func TestReadFrameBoundsUnterminatedLine(t *testing.T) {
	src := &endlessLine{}
	_, _, err := NewReader(io.MultiReader(strings.NewReader("data: "), src)).ReadFrame()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Less(t, src.read, 2*MaxFrameSize)
}

func writeEvents(t *testing.T, w http.ResponseWriter, events ...Event) {
	t.Helper()
	w.Header().Set("Content-Type", "text/event-stream")
	sw := NewWriter(w)
	for _, ev := range events {
		require.NoError(t, sw.WriteEvent(ev))
	}
}

func TestClientChatStreamsEvents(t *testing.T) {
	var gotReq ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		writeEvents(t, w, MessageStart("m"), PartStart("t", models.PartText), PartDelta("t", "hi"))
		// malformed frame in the middle is skipped
		_, _ = io.WriteString(w, "data: {broken\n\n")
		writeEvents(t, w, PartEnd("t"), MessageEnd("stop"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", srv.Client(), quietLogger())
	req := ChatRequest{
		ConversationID: "chat-1",
		Model:          "m-1",
		Messages:       []models.Message{{ID: "u", Role: models.RoleUser, Parts: []models.Part{models.TextPart("yo")}}},
	}
	s, err := c.Chat(context.Background(), req)
	require.NoError(t, err)
	defer s.Close()

	var types []EventType
	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		types = append(types, ev.Type)
	}

	assert.Equal(t, []EventType{EventMessageStart, EventPartStart, EventPartDelta, EventPartEnd, EventMessageEnd}, types)
	assert.Equal(t, req, gotReq)

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestClientChatNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"model is required"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil, quietLogger()).Chat(context.Background(), ChatRequest{})
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadRequest, te.StatusCode)
	assert.Contains(t, te.Error(), "model is required")
}

func TestClientChatConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, nil, quietLogger()).Chat(context.Background(), ChatRequest{})
	var te *TransportError
	assert.ErrorAs(t, err, &te)
}

func TestClientAbortEndsStreamWithoutErrorEvent(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEvents(t, w, MessageStart("m"), PartStart("t", models.PartText))
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	s, err := NewClient(srv.URL, nil, quietLogger()).Chat(ctx, ChatRequest{})
	require.NoError(t, err)

	_, err = s.Next()
	require.NoError(t, err)
	_, err = s.Next()
	require.NoError(t, err)

	cancel()
	ev, err := s.Next()
	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, Event{}, ev)

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestClientTruncatedStreamEndsWithEOF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEvents(t, w, MessageStart("m"))
	}))
	defer srv.Close()

	s, err := NewClient(srv.URL, nil, quietLogger()).Chat(context.Background(), ChatRequest{})
	require.NoError(t, err)
	_, err = s.Next()
	require.NoError(t, err)
	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/models", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]models.ModelOption{{Label: "Gemini 1.5 Pro", Value: "gemini-1.5-pro"}})
	}))
	defer srv.Close()

	got := NewClient(srv.URL, nil, quietLogger()).ListModels(context.Background())
	assert.Equal(t, []models.ModelOption{{Label: "Gemini 1.5 Pro", Value: "gemini-1.5-pro"}}, got)
}

func TestListModelsDegradesToEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	got := NewClient(srv.URL, nil, quietLogger()).ListModels(context.Background())
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
