// Package chat orchestrates conversation turns: it owns the active
// conversation, drives one assembler per turn and persists every snapshot.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"arclight/internal/assembler"
	"arclight/internal/export"
	"arclight/internal/models"
	"arclight/internal/store"
	"arclight/internal/stream"
)

var (
	ErrTurnInFlight = errors.New("a turn is already in flight")
	ErrEmptyTurn    = errors.New("turn has no text and no images")
	ErrNotFound     = errors.New("conversation not found")
)

// TurnInput is what the user submits. Images are data URIs in attach order.
type TurnInput struct {
	Text   string
	Images []string
}

// TurnResult is the terminal outcome of Submit.
type TurnResult struct {
	Phase assembler.Phase
	Err   error
}

// Snapshot is what observers render.
type Snapshot struct {
	ConversationID string
	Title          string
	Model          string
	Messages       []models.Message
	Streaming      bool
	Phase          assembler.Phase
	Err            error
}

type turn struct {
	conv    models.Conversation
	cancel  context.CancelFunc
	dropped bool
}

type Controller struct {
	mu        sync.Mutex
	store     store.Store
	transport stream.Transport
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
	bcast     *broadcaster

	active models.Conversation
	model  string
	turn   *turn
	phase  assembler.Phase
	err    error
}

type Option func(*Controller)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithMessageIDGenerator sets how user message ids are allocated.
func WithMessageIDGenerator(gen func() string) Option {
	return func(c *Controller) { c.newID = gen }
}

// WithDefaultModel sets the model used until one is selected or loaded.
func WithDefaultModel(model string) Option {
	return func(c *Controller) { c.model = model }
}

func New(st store.Store, transport stream.Transport, opts ...Option) *Controller {
	c := &Controller{
		store:     st,
		transport: transport,
		logger:    slog.Default(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "chat")
	c.bcast = newBroadcaster(c.logger)
	return c
}

// Load restores the selected model and the active conversation, if it still
// exists.
func (c *Controller) Load(ctx context.Context) {
	c.mu.Lock()
	if m, ok := c.store.SelectedModel(ctx); ok {
		c.model = m
	}
	if id, ok := c.store.ActiveID(ctx); ok {
		if conv, found := c.store.Get(ctx, id); found {
			c.adoptLocked(conv)
		} else {
			c.logger.Warn("active conversation no longer exists", "conversation_id", id)
			if err := c.store.ClearActiveID(ctx); err != nil {
				c.logger.Error("failed to clear active id", "error", err)
			}
		}
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.bcast.publish(snap)
}

// ResolveModel picks the model to use once the model list is known: the
// current one if the list offers it, otherwise the first entry.
func (c *Controller) ResolveModel(ctx context.Context, opts []models.ModelOption) string {
	c.mu.Lock()
	current := c.model
	c.mu.Unlock()

	if len(opts) == 0 {
		return current
	}
	for _, o := range opts {
		if o.Value == current {
			return current
		}
	}
	if err := c.SetModel(ctx, opts[0].Value); err != nil {
		c.logger.Error("failed to persist model", "error", err)
	}
	return opts[0].Value
}

func (c *Controller) adoptLocked(conv models.Conversation) {
	c.active = conv
	if conv.Model != "" {
		c.model = conv.Model
	}
	c.phase = assembler.Idle
	c.err = nil
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		ConversationID: c.active.ID,
		Title:          c.active.Title,
		Model:          c.model,
		Messages:       c.active.Messages,
		Streaming:      c.turn != nil && c.turn.conv.ID == c.active.ID,
		Phase:          c.phase,
		Err:            c.err,
	}
}

// Subscribe returns a channel of snapshots that closes when ctx is done.
func (c *Controller) Subscribe(ctx context.Context) <-chan Snapshot {
	return c.bcast.subscribe(ctx)
}

// Close releases all subscribers.
func (c *Controller) Close() {
	c.Abort()
	c.bcast.close()
}

func (c *Controller) Current() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) ActiveID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active.ID
}

func (c *Controller) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// Messages returns the displayed message list. Callers must not mutate it.
func (c *Controller) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active.Messages
}

func (c *Controller) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turn != nil
}

// Conversations lists stored conversations for the history picker.
func (c *Controller) Conversations(ctx context.Context) []models.Conversation {
	return c.store.ListAll(ctx)
}

// Submit runs one turn to completion. It blocks until the turn is Settled,
// Aborted or Failed; errors are only returned when the turn never started.
func (c *Controller) Submit(ctx context.Context, in TurnInput) (TurnResult, error) {
	hasText := strings.TrimSpace(in.Text) != ""
	if !hasText && len(in.Images) == 0 {
		return TurnResult{}, ErrEmptyTurn
	}

	c.mu.Lock()
	if c.turn != nil {
		c.mu.Unlock()
		return TurnResult{}, ErrTurnInFlight
	}

	conv := c.active
	if conv.ID == "" {
		conv = c.store.NewConversation(ctx, c.model)
		if err := c.store.Upsert(ctx, conv); err != nil {
			c.mu.Unlock()
			return TurnResult{}, fmt.Errorf("creating conversation: %w", err)
		}
		if err := c.store.SetActiveID(ctx, conv.ID); err != nil {
			c.logger.Error("failed to persist active id", "error", err)
		}
		c.logger.Info("conversation created", "conversation_id", conv.ID, "model", conv.Model)
	}

	parts := make([]models.Part, 0, len(in.Images)+1)
	for _, img := range in.Images {
		parts = append(parts, models.ImagePart(img))
	}
	if hasText {
		parts = append(parts, models.TextPart(in.Text))
	}
	userMsg := models.Message{ID: c.newID(), Role: models.RoleUser, Parts: parts}

	msgs := make([]models.Message, len(conv.Messages), len(conv.Messages)+2)
	copy(msgs, conv.Messages)
	conv.Messages = append(msgs, userMsg)
	conv.Title = titleFor(conv)
	conv.UpdatedAt = c.now().UnixMilli()

	if err := c.store.Upsert(ctx, conv); err != nil {
		c.logger.Error("failed to persist user message", "conversation_id", conv.ID, "error", err)
	}

	turnCtx, cancel := context.WithCancel(ctx)
	t := &turn{conv: conv, cancel: cancel}
	c.turn = t
	c.active = conv
	c.phase = assembler.Idle
	c.err = nil
	model := c.model
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.bcast.publish(snap)

	result := c.run(turnCtx, t, model)

	c.mu.Lock()
	cancel()
	c.turn = nil
	if c.active.ID == t.conv.ID {
		c.phase = result.Phase
		c.err = result.Err
	}
	snap = c.snapshotLocked()
	c.mu.Unlock()
	c.bcast.publish(snap)

	c.logger.Info("turn finished", "conversation_id", t.conv.ID, "phase", result.Phase.String(), "error", result.Err)
	return result, nil
}

// titleFor applies the one-time title derivation: only while the title is
// still the sentinel and the first user message carries text.
func titleFor(conv models.Conversation) string {
	if conv.Title != models.SentinelTitle {
		return conv.Title
	}
	for _, m := range conv.Messages {
		if m.Role != models.RoleUser {
			continue
		}
		if text, ok := m.FirstText(); ok {
			return store.DeriveTitle(text)
		}
		break
	}
	return conv.Title
}

func (c *Controller) run(ctx context.Context, t *turn, model string) TurnResult {
	asm := assembler.New(t.conv.Messages, c.logger)

	es, err := c.transport.Chat(ctx, stream.ChatRequest{
		ConversationID: t.conv.ID,
		Messages:       t.conv.Messages,
		Model:          model,
	})
	if err != nil {
		c.finish(ctx, t, asm, err)
		return result(asm)
	}
	defer es.Close()

	for !asm.Phase().Terminal() {
		ev, err := es.Next()
		if err != nil {
			c.finish(ctx, t, asm, err)
			break
		}
		if snap := asm.Apply(ev); snap != nil {
			c.apply(t, snap)
		}
	}
	return result(asm)
}

// finish ends a turn that stopped without a terminal event.
func (c *Controller) finish(ctx context.Context, t *turn, asm *assembler.Assembler, err error) {
	var snap *assembler.Snapshot
	switch {
	case errors.Is(err, stream.ErrAborted) || ctx.Err() != nil:
		snap = asm.Abort()
	case errors.Is(err, io.EOF):
		snap = asm.Fail(assembler.ErrStreamTruncated)
	default:
		snap = asm.Fail(err)
	}
	if snap != nil {
		c.apply(t, snap)
	}
}

func result(asm *assembler.Assembler) TurnResult {
	st := asm.State()
	return TurnResult{Phase: st.Phase, Err: st.Err}
}

// apply merges a snapshot into the turn's conversation and persists it.
func (c *Controller) apply(t *turn, snap *assembler.Snapshot) {
	c.mu.Lock()
	if t.dropped {
		c.mu.Unlock()
		return
	}
	t.conv.Messages = snap.Messages
	t.conv.UpdatedAt = c.now().UnixMilli()
	if err := c.store.Upsert(context.Background(), t.conv); err != nil {
		c.logger.Error("failed to persist snapshot", "conversation_id", t.conv.ID, "error", err)
	}
	visible := c.active.ID == t.conv.ID
	if visible {
		c.active = t.conv
		c.phase = snap.Phase
		c.err = snap.Err
	}
	out := c.snapshotLocked()
	c.mu.Unlock()

	if visible {
		c.bcast.publish(out)
	}
}

// Abort cancels the in-flight turn. It reports whether there was one.
func (c *Controller) Abort() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn == nil {
		return false
	}
	c.turn.cancel()
	return true
}

// NewChat creates, persists and activates an empty conversation.
func (c *Controller) NewChat(ctx context.Context) (models.Conversation, error) {
	c.mu.Lock()
	conv := c.store.NewConversation(ctx, c.model)
	if err := c.store.Upsert(ctx, conv); err != nil {
		c.mu.Unlock()
		return models.Conversation{}, fmt.Errorf("creating conversation: %w", err)
	}
	if err := c.store.SetActiveID(ctx, conv.ID); err != nil {
		c.logger.Error("failed to persist active id", "error", err)
	}
	c.adoptLocked(conv)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.bcast.publish(snap)
	return conv, nil
}

// Select displays a stored conversation and adopts its model. The record
// itself is not modified.
func (c *Controller) Select(ctx context.Context, id string) error {
	c.mu.Lock()
	conv, ok := c.store.Get(ctx, id)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if c.turn != nil && c.turn.conv.ID == id {
		conv = c.turn.conv
	}
	if err := c.store.SetActiveID(ctx, id); err != nil {
		c.logger.Error("failed to persist active id", "error", err)
	}
	c.adoptLocked(conv)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.bcast.publish(snap)
	return nil
}

// Delete removes a conversation. Deleting the active one selects the first
// remaining conversation, or clears the active pointer when none remain.
func (c *Controller) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.turn != nil && c.turn.conv.ID == id {
		c.turn.dropped = true
		c.turn.cancel()
	}
	if err := c.store.Remove(ctx, id); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("removing conversation: %w", err)
	}

	if c.active.ID == id {
		remaining := c.store.ListAll(ctx)
		if len(remaining) > 0 {
			if err := c.store.SetActiveID(ctx, remaining[0].ID); err != nil {
				c.logger.Error("failed to persist active id", "error", err)
			}
			c.adoptLocked(remaining[0])
		} else {
			if err := c.store.ClearActiveID(ctx); err != nil {
				c.logger.Error("failed to clear active id", "error", err)
			}
			c.active = models.Conversation{}
			c.phase = assembler.Idle
			c.err = nil
		}
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info("conversation deleted", "conversation_id", id)
	c.bcast.publish(snap)
	return nil
}

// SetModel changes the model for subsequent turns and remembers it.
func (c *Controller) SetModel(ctx context.Context, model string) error {
	c.mu.Lock()
	c.model = model
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.bcast.publish(snap)
	if err := c.store.SetSelectedModel(ctx, model); err != nil {
		return fmt.Errorf("saving selected model: %w", err)
	}
	return nil
}

// Export renders the displayed conversation as Markdown.
func (c *Controller) Export() string {
	return export.Markdown(c.Messages())
}
