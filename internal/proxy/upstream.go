package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"

	"arclight/internal/models"
)

// Chunk is one upstream streaming delta, already reduced to what the event
// translator needs.
type Chunk struct {
	Content      string
	Reasoning    string
	FinishReason string
}

// ChunkStream mirrors the openai-go stream iterator.
type ChunkStream interface {
	Next() bool
	Current() Chunk
	Err() error
	Close() error
}

// Upstream is the language-model provider behind the proxy.
type Upstream interface {
	Stream(ctx context.Context, model string, msgs []models.Message) (ChunkStream, error)
	Models(ctx context.Context) ([]models.ModelOption, error)
}

type UpstreamConfig struct {
	BaseURL string
	APIKey  string
	Headers map[string]string
}

// OpenAIUpstream talks to any OpenAI-compatible endpoint.
type OpenAIUpstream struct {
	client openai.Client
}

func NewOpenAIUpstream(cfg UpstreamConfig) *OpenAIUpstream {
	opts := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	return &OpenAIUpstream{client: openai.NewClient(opts...)}
}

func (u *OpenAIUpstream) Stream(ctx context.Context, model string, msgs []models.Message) (ChunkStream, error) {
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: ToParams(msgs),
	}
	s := u.client.Chat.Completions.NewStreaming(ctx, params)
	if err := s.Err(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("opening upstream stream: %w", err)
	}
	return &openAIStream{s: s}, nil
}

func (u *OpenAIUpstream) Models(ctx context.Context) ([]models.ModelOption, error) {
	page, err := u.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing upstream models: %w", err)
	}
	out := make([]models.ModelOption, 0, len(page.Data))
	for _, m := range page.Data {
		out = append(out, models.ModelOption{Label: m.ID, Value: m.ID})
	}
	return out, nil
}

type openAIStream struct {
	s *ssestream.Stream[openai.ChatCompletionChunk]
}

func (o *openAIStream) Next() bool     { return o.s.Next() }
func (o *openAIStream) Err() error     { return o.s.Err() }
func (o *openAIStream) Close() error   { return o.s.Close() }
func (o *openAIStream) Current() Chunk { return ChunkFromOpenAI(o.s.Current()) }

// ChunkFromOpenAI extracts content, reasoning and finish reason. Reasoning
// is not part of the OpenAI schema, so it is read from the raw payload under
// the names compatible providers use.
func ChunkFromOpenAI(c openai.ChatCompletionChunk) Chunk {
	var out Chunk
	if len(c.Choices) > 0 {
		out.Content = c.Choices[0].Delta.Content
		out.FinishReason = string(c.Choices[0].FinishReason)
	}

	raw := c.RawJSON()
	if raw == "" || !strings.Contains(raw, "reasoning") {
		return out
	}
	var extra struct {
		Choices []struct {
			Delta struct {
				ReasoningContent string `json:"reasoning_content"`
				Reasoning        string `json:"reasoning"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(raw), &extra); err == nil && len(extra.Choices) > 0 {
		d := extra.Choices[0].Delta
		out.Reasoning = d.ReasoningContent
		if out.Reasoning == "" {
			out.Reasoning = d.Reasoning
		}
	}
	return out
}

// ToParams converts stored messages into chat completion messages. Images
// ride along as image_url content parts; reasoning is never sent back.
func ToParams(msgs []models.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case models.RoleUser:
			var content []openai.ChatCompletionContentPartUnionParam
			for _, p := range m.Parts {
				switch p.Type {
				case models.PartText:
					content = append(content, openai.TextContentPart(p.Text))
				case models.PartImage:
					content = append(content, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
						URL: p.Image,
					}))
				}
			}
			if len(content) == 0 {
				continue
			}
			out = append(out, openai.UserMessage(content))
		case models.RoleAssistant:
			var texts []string
			for _, p := range m.Parts {
				if p.Type == models.PartText && p.Text != "" {
					texts = append(texts, p.Text)
				}
			}
			if len(texts) == 0 {
				continue
			}
			out = append(out, openai.AssistantMessage(strings.Join(texts, "\n\n")))
		}
	}
	return out
}
