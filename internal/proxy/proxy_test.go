package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arclight/internal/assembler"
	"arclight/internal/models"
	"arclight/internal/stream"
)

type fakeChunks struct {
	chunks []Chunk
	err    error
	cur    Chunk
	closed bool
}

func (f *fakeChunks) Next() bool {
	if len(f.chunks) == 0 {
		return false
	}
	f.cur = f.chunks[0]
	f.chunks = f.chunks[1:]
	return true
}

func (f *fakeChunks) Current() Chunk { return f.cur }
func (f *fakeChunks) Err() error     { return f.err }
func (f *fakeChunks) Close() error   { f.closed = true; return nil }

type fakeUpstream struct {
	stream    *fakeChunks
	streamErr error
	models    []models.ModelOption
	modelsErr error

	gotModel string
	gotMsgs  []models.Message
}

func (f *fakeUpstream) Stream(_ context.Context, model string, msgs []models.Message) (ChunkStream, error) {
	f.gotModel = model
	f.gotMsgs = msgs
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return f.stream, nil
}

func (f *fakeUpstream) Models(context.Context) ([]models.ModelOption, error) {
	return f.models, f.modelsErr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func chatBody(t *testing.T) string {
	t.Helper()
	data, err := json.Marshal(stream.ChatRequest{
		ConversationID: "chat-1",
		Model:          "gemini-1.5-pro",
		Messages: []models.Message{
			{ID: "u1", Role: models.RoleUser, Parts: []models.Part{models.TextPart("hello")}},
		},
	})
	require.NoError(t, err)
	return string(data)
}

func postChat(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func readEvents(t *testing.T, body io.Reader) []stream.Event {
	t.Helper()
	r := stream.NewReader(body)
	var evs []stream.Event
	for {
		ev, err := r.ReadEvent()
		if errors.Is(err, io.EOF) {
			return evs
		}
		require.NoError(t, err)
		evs = append(evs, ev)
	}
}

func TestChatStreamsReasoningThenText(t *testing.T) {
	up := &fakeUpstream{stream: &fakeChunks{chunks: []Chunk{
		{Reasoning: "let me "},
		{Reasoning: "think"},
		{Content: "Hel"},
		{Content: "lo", FinishReason: "stop"},
	}}}
	srv := New(up, Options{Logger: quietLogger()})

	rec := postChat(t, srv, chatBody(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "gemini-1.5-pro", up.gotModel)
	require.Len(t, up.gotMsgs, 1)
	assert.True(t, up.stream.closed)

	evs := readEvents(t, rec.Body)
	types := make([]stream.EventType, 0, len(evs))
	for _, ev := range evs {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []stream.EventType{
		stream.EventMessageStart,
		stream.EventPartStart, stream.EventPartDelta, stream.EventPartDelta,
		stream.EventPartEnd,
		stream.EventPartStart, stream.EventPartDelta, stream.EventPartDelta,
		stream.EventPartEnd,
		stream.EventMessageEnd,
	}, types)
	assert.Equal(t, "stop", evs[len(evs)-1].FinishReason)

	// the client side assembles the same stream into one message
	a := assembler.New(nil, quietLogger())
	for _, ev := range evs {
		a.Apply(ev)
	}
	require.Equal(t, assembler.Settled, a.Phase())
	msg := a.State().Messages[0]
	require.Len(t, msg.Parts, 2)
	assert.Equal(t, models.PartReasoning, msg.Parts[0].Type)
	assert.Equal(t, "let me think", msg.Parts[0].Text)
	assert.Equal(t, "Hello", msg.Parts[1].Text)
}

func TestChatUpstreamOpenFailureSendsErrorEvent(t *testing.T) {
	up := &fakeUpstream{streamErr: errors.New("401 unauthorized")}
	srv := New(up, Options{Logger: quietLogger()})

	rec := postChat(t, srv, chatBody(t))
	require.Equal(t, http.StatusOK, rec.Code)

	evs := readEvents(t, rec.Body)
	require.Len(t, evs, 2)
	assert.Equal(t, stream.EventMessageStart, evs[0].Type)
	assert.Equal(t, stream.EventError, evs[1].Type)
	assert.Contains(t, evs[1].ErrorText, "401")
}

func TestChatUpstreamBreaksMidStream(t *testing.T) {
	up := &fakeUpstream{stream: &fakeChunks{
		chunks: []Chunk{{Content: "Hel"}},
		err:    errors.New("unexpected EOF"),
	}}
	srv := New(up, Options{Logger: quietLogger()})

	evs := readEvents(t, postChat(t, srv, chatBody(t)).Body)
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.Equal(t, stream.EventError, last.Type)
	assert.Equal(t, stream.EventPartEnd, evs[len(evs)-2].Type)
}

func TestChatRejectsInvalidRequests(t *testing.T) {
	srv := New(&fakeUpstream{}, Options{Logger: quietLogger()})

	cases := map[string]string{
		"bad json":      `{`,
		"missing model": `{"messages":[{"id":"u","role":"user","parts":[{"type":"text","text":"x"}]}]}`,
		"no messages":   `{"model":"m"}`,
		"bad role":      `{"model":"m","messages":[{"id":"u","role":"system","parts":[]}]}`,
		"bad part":      `{"model":"m","messages":[{"id":"u","role":"user","parts":[{"type":"audio"}]}]}`,
	}
	for name, body := range cases {
		rec := postChat(t, srv, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		var payload map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload), name)
		assert.NotEmpty(t, payload["error"], name)
	}
}

func TestChatRateLimited(t *testing.T) {
	up := &fakeUpstream{stream: &fakeChunks{}}
	srv := New(up, Options{Logger: quietLogger(), RequestsPerSecond: 0.001, Burst: 1})

	assert.Equal(t, http.StatusOK, postChat(t, srv, chatBody(t)).Code)
	assert.Equal(t, http.StatusTooManyRequests, postChat(t, srv, chatBody(t)).Code)
}

func TestModelsConfiguredList(t *testing.T) {
	configured := []models.ModelOption{{Label: "Gemini 1.5 Flash", Value: "gemini-1.5-flash"}}
	srv := New(&fakeUpstream{modelsErr: errors.New("unused")}, Options{Logger: quietLogger(), Models: configured})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []models.ModelOption
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, configured, got)
}

func TestModelsFromUpstreamDegradesToEmpty(t *testing.T) {
	srv := New(&fakeUpstream{modelsErr: errors.New("down")}, Options{Logger: quietLogger()})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	srv := New(&fakeUpstream{stream: &fakeChunks{chunks: []Chunk{{Content: "x"}}}}, Options{Logger: quietLogger()})
	postChat(t, srv, chatBody(t))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `arclight_proxy_requests_total{code="200",route="chat"} 1`)
	assert.Contains(t, body, `arclight_proxy_stream_events_total{type="part-delta"} 1`)
}

func TestTranslatorInterleaving(t *testing.T) {
	var tr translator
	var evs []stream.Event
	evs = append(evs, tr.feed(Chunk{Content: "a"})...)
	evs = append(evs, tr.feed(Chunk{Reasoning: "r"})...)
	evs = append(evs, tr.feed(Chunk{Content: "b"})...)
	evs = append(evs, tr.feed(Chunk{})...)
	evs = append(evs, tr.close()...)

	assert.Equal(t, []stream.Event{
		stream.PartStart("text-1", models.PartText),
		stream.PartDelta("text-1", "a"),
		stream.PartEnd("text-1"),
		stream.PartStart("reasoning-2", models.PartReasoning),
		stream.PartDelta("reasoning-2", "r"),
		stream.PartEnd("reasoning-2"),
		stream.PartStart("text-3", models.PartText),
		stream.PartDelta("text-3", "b"),
		stream.PartEnd("text-3"),
	}, evs)
	assert.Nil(t, tr.close())
}

func TestChunkFromOpenAI(t *testing.T) {
	var c openai.ChatCompletionChunk
	raw := `{"id":"1","object":"chat.completion.chunk","created":1,"model":"m",` +
		`"choices":[{"index":0,"delta":{"content":"hi","reasoning_content":"hmm"},"finish_reason":"stop"}]}`
	require.NoError(t, json.Unmarshal([]byte(raw), &c))

	assert.Equal(t, Chunk{Content: "hi", Reasoning: "hmm", FinishReason: "stop"}, ChunkFromOpenAI(c))

	raw = `{"id":"1","object":"chat.completion.chunk","created":1,"model":"m",` +
		`"choices":[{"index":0,"delta":{"reasoning":"alt"}}]}`
	var alt openai.ChatCompletionChunk
	require.NoError(t, json.Unmarshal([]byte(raw), &alt))
	assert.Equal(t, "alt", ChunkFromOpenAI(alt).Reasoning)
}

func TestToParamsSkipsReasoningAndEmptyMessages(t *testing.T) {
	params := ToParams([]models.Message{
		{Role: models.RoleUser, Parts: []models.Part{models.ImagePart("data:image/png;base64,AA"), models.TextPart("what")}},
		{Role: models.RoleAssistant, Parts: []models.Part{models.ReasoningPart("secret"), models.TextPart("a pixel")}},
		{Role: models.RoleAssistant, Parts: []models.Part{models.ReasoningPart("only")}},
	})
	require.Len(t, params, 2)

	data, err := json.Marshal(params)
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, `"image_url"`)
	assert.Contains(t, s, `"a pixel"`)
	assert.NotContains(t, s, "secret")
}
