// Package store persists conversations and the active-conversation pointer
// in a key-value substrate.
//
// The whole conversation collection is serialized as one JSON array under a
// single key so that every Upsert is one atomic Set. Two processes sharing a
// substrate are last-writer-wins per Upsert.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"arclight/internal/db"
	"arclight/internal/models"
)

const (
	ConversationsKey = "ai-chat-conversations"
	ActiveIDKey      = "ai-chat-active-id"
	SelectedModelKey = "ai-chat-selected-model"

	TitleMaxRunes = 40
	titleEllipsis = "..."
)

// Store is the ConversationStore contract used by the controller.
type Store interface {
	ListAll(ctx context.Context) []models.Conversation
	Get(ctx context.Context, id string) (models.Conversation, bool)
	Upsert(ctx context.Context, c models.Conversation) error
	Remove(ctx context.Context, id string) error
	ActiveID(ctx context.Context) (string, bool)
	SetActiveID(ctx context.Context, id string) error
	ClearActiveID(ctx context.Context) error
	NewConversation(ctx context.Context, model string) models.Conversation
	SelectedModel(ctx context.Context) (string, bool)
	SetSelectedModel(ctx context.Context, model string) error
}

type ConversationStore struct {
	mu     sync.Mutex
	kv     db.KV
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

type Option func(*ConversationStore)

func WithClock(now func() time.Time) Option {
	return func(s *ConversationStore) { s.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(s *ConversationStore) { s.newID = gen }
}

// New wraps kv. Pass nil logger for default.
func New(kv db.KV, logger *slog.Logger, opts ...Option) *ConversationStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ConversationStore{
		kv:     kv,
		logger: logger.With("component", "store"),
		now:    time.Now,
		newID:  func() string { return "chat-" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListAll returns every stored conversation, most recently created first.
// Unreadable or corrupt data is logged and reported as an empty list.
func (s *ConversationStore) ListAll(ctx context.Context) []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *ConversationStore) load(ctx context.Context) []models.Conversation {
	raw, ok, err := s.kv.Get(ctx, ConversationsKey)
	if err != nil {
		s.logger.Error("failed to load conversations", "error", err)
		return []models.Conversation{}
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return []models.Conversation{}
	}

	var convs []models.Conversation
	if err := json.Unmarshal([]byte(raw), &convs); err != nil {
		s.logger.Error("failed to parse conversations", "error", err)
		return []models.Conversation{}
	}
	if convs == nil {
		return []models.Conversation{}
	}
	return convs
}

func (s *ConversationStore) save(ctx context.Context, convs []models.Conversation) error {
	data, err := json.Marshal(convs)
	if err != nil {
		return fmt.Errorf("encoding conversations: %w", err)
	}
	if err := s.kv.Set(ctx, ConversationsKey, string(data)); err != nil {
		return fmt.Errorf("writing conversations: %w", err)
	}
	return nil
}

func (s *ConversationStore) Get(ctx context.Context, id string) (models.Conversation, bool) {
	for _, c := range s.ListAll(ctx) {
		if c.ID == id {
			return c, true
		}
	}
	return models.Conversation{}, false
}

// Upsert replaces the record with the same id in place, or inserts c at the
// front when it is new.
func (s *ConversationStore) Upsert(ctx context.Context, c models.Conversation) error {
	if c.ID == "" {
		return fmt.Errorf("conversation has no id")
	}
	if c.Messages == nil {
		c.Messages = []models.Message{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	convs := s.load(ctx)
	replaced := false
	for i := range convs {
		if convs[i].ID == c.ID {
			convs[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		convs = append([]models.Conversation{c}, convs...)
	}
	return s.save(ctx, convs)
}

// Remove deletes the conversation with id. Removing an absent id is a no-op.
func (s *ConversationStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	convs := s.load(ctx)
	filtered := convs[:0]
	for _, c := range convs {
		if c.ID != id {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == len(convs) {
		return nil
	}
	return s.save(ctx, filtered)
}

func (s *ConversationStore) ActiveID(ctx context.Context) (string, bool) {
	return s.scalar(ctx, ActiveIDKey)
}

func (s *ConversationStore) SetActiveID(ctx context.Context, id string) error {
	if err := s.kv.Set(ctx, ActiveIDKey, id); err != nil {
		return fmt.Errorf("writing active id: %w", err)
	}
	return nil
}

func (s *ConversationStore) ClearActiveID(ctx context.Context) error {
	if err := s.kv.Remove(ctx, ActiveIDKey); err != nil {
		return fmt.Errorf("clearing active id: %w", err)
	}
	return nil
}

func (s *ConversationStore) SelectedModel(ctx context.Context) (string, bool) {
	return s.scalar(ctx, SelectedModelKey)
}

func (s *ConversationStore) SetSelectedModel(ctx context.Context, model string) error {
	if err := s.kv.Set(ctx, SelectedModelKey, model); err != nil {
		return fmt.Errorf("writing selected model: %w", err)
	}
	return nil
}

func (s *ConversationStore) scalar(ctx context.Context, key string) (string, bool) {
	v, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.logger.Error("failed to read key", "key", key, "error", err)
		return "", false
	}
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// NewConversation allocates a fresh record. It is not persisted.
func (s *ConversationStore) NewConversation(ctx context.Context, model string) models.Conversation {
	existing := make(map[string]struct{})
	for _, c := range s.ListAll(ctx) {
		existing[c.ID] = struct{}{}
	}

	id := s.newID()
	for {
		if _, taken := existing[id]; !taken {
			break
		}
		id = s.newID()
	}

	now := s.now().UnixMilli()
	return models.Conversation{
		ID:        id,
		Title:     models.SentinelTitle,
		Messages:  []models.Message{},
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// DeriveTitle turns the first user text into a conversation title: line
// breaks become spaces and anything past TitleMaxRunes is cut and marked
// with an ellipsis.
func DeriveTitle(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.ReplaceAll(cleaned, "\r\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\n", " ")
	r := []rune(cleaned)
	if len(r) <= TitleMaxRunes {
		return cleaned
	}
	return string(r[:TitleMaxRunes]) + titleEllipsis
}
