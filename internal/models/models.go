package models

import (
	"errors"
	"fmt"
)

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartKind is the closed set of message part variants
type PartKind string

const (
	PartText      PartKind = "text"
	PartReasoning PartKind = "reasoning"
	PartImage     PartKind = "image"
)

// PartState tracks whether a streamed part is still receiving deltas
type PartState string

const (
	StateStreaming PartState = "streaming"
	StateDone      PartState = "done"
)

// SentinelTitle is the placeholder title of a conversation that has not
// seen its first user text yet.
const SentinelTitle = "New Chat"

var ErrUnknownPartType = errors.New("unknown part type")

func ParsePartKind(s string) (PartKind, error) {
	switch PartKind(s) {
	case PartText, PartReasoning, PartImage:
		return PartKind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPartType, s)
	}
}

// Part is a typed fragment of message content. Text and reasoning parts carry
// Text; image parts carry a data URI in Image.
type Part struct {
	Type      PartKind  `json:"type"`
	Text      string    `json:"text,omitempty"`
	Image     string    `json:"image,omitempty"`
	MediaType string    `json:"mediaType,omitempty"`
	State     PartState `json:"state,omitempty"`
}

func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

func ReasoningPart(text string) Part {
	return Part{Type: PartReasoning, Text: text, State: StateDone}
}

func ImagePart(dataURI string) Part {
	return Part{Type: PartImage, Image: dataURI}
}

func (p Part) Validate() error {
	if _, err := ParsePartKind(string(p.Type)); err != nil {
		return err
	}
	if p.Type == PartImage && p.Image == "" {
		return fmt.Errorf("image part has no data")
	}
	return nil
}

type Message struct {
	ID    string `json:"id"`
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// Clone returns a copy whose Parts slice can be mutated independently.
func (m Message) Clone() Message {
	out := m
	out.Parts = append([]Part(nil), m.Parts...)
	return out
}

// FirstText returns the content of the first text part, if any.
func (m Message) FirstText() (string, bool) {
	for _, p := range m.Parts {
		if p.Type == PartText {
			return p.Text, true
		}
	}
	return "", false
}

// Conversation is the persisted record. Timestamps are Unix milliseconds.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	Model     string    `json:"model"`
	CreatedAt int64     `json:"createdAt"`
	UpdatedAt int64     `json:"updatedAt"`
}

func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = CloneMessages(c.Messages)
	return out
}

func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// ModelOption is one entry of the model picker
type ModelOption struct {
	Label string `json:"label" yaml:"label" toml:"label"`
	Value string `json:"value" yaml:"value" toml:"value"`
}
