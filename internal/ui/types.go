package ui

import (
	"context"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/glamour"

	"arclight/internal/chat"
	"arclight/internal/models"
)

const (
	MaxChatWidth    = 100
	HistoryPageSize = 10
	maxInputHeight  = 6
)

var ModalWidth = 60

// ModelLister supplies the model picker entries.
type ModelLister interface {
	ListModels(ctx context.Context) []models.ModelOption
}

type (
	snapshotMsg     chat.Snapshot
	subscriptionEnd struct{}

	turnDoneMsg struct {
		Result chat.TurnResult
		Err    error
	}

	modelsLoadedMsg struct {
		Options  []models.ModelOption
		Resolved string
	}

	exportDoneMsg struct {
		Path string
		Err  error
	}
)

// renderedMessage caches the glamour output for a settled message.
type renderedMessage struct {
	source string
	out    string
}

type Model struct {
	Viewport      viewport.Model
	ModelViewport viewport.Model
	TextInput     textarea.Model
	Spinner       spinner.Model
	Renderer      *glamour.TermRenderer

	ctx       context.Context
	ctrl      *chat.Controller
	lister    ModelLister
	snapshots <-chan chat.Snapshot
	snap      chat.Snapshot
	cache     map[string]renderedMessage

	ExportDir string
	Err       error
	Status    string

	WindowWidth  int
	WindowHeight int

	HistoryOpen        bool
	HistorySelectedIdx int
	HistoryPage        int
	HistoryChats       []models.Conversation
	HistoryErr         error

	ModelSelectorOpen  bool
	ModelOptions       []models.ModelOption
	SelectedModelIndex int

	ShortcutsOpen bool

	// PendingImages are data URIs attached with /image, sent with the next turn.
	PendingImages []string
}
