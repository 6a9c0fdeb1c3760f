package ui

import (
	"context"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"arclight/internal/chat"
	"arclight/internal/styles"
)

// New builds the UI model. It subscribes to ctrl for the lifetime of ctx.
func New(ctx context.Context, ctrl *chat.Controller, lister ModelLister, exportDir string) *Model {
	ti := textarea.New()
	ti.Placeholder = "Type a message... (/image <path> attaches a picture)"
	ti.Prompt = "❯ "
	ti.ShowLineNumbers = false
	ti.CharLimit = 0
	ti.MaxHeight = maxInputHeight
	ti.SetHeight(2)
	ti.SetWidth(80)
	prompt := lipgloss.NewStyle().Foreground(styles.Palette.Primary).Bold(true)
	ti.FocusedStyle.Prompt = prompt
	ti.BlurredStyle.Prompt = prompt
	ti.FocusedStyle.Placeholder = lipgloss.NewStyle().Foreground(styles.Palette.Hint)
	ti.BlurredStyle.Placeholder = lipgloss.NewStyle().Foreground(styles.Palette.Hint)
	ti.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ti.BlurredStyle.CursorLine = lipgloss.NewStyle()
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(styles.Palette.Primary)

	if exportDir == "" {
		exportDir = "."
	}

	return &Model{
		TextInput:     ti,
		Viewport:      viewport.New(60, 15),
		ModelViewport: viewport.New(ModalWidth-4, 15),
		Spinner:       sp,
		ctx:           ctx,
		ctrl:          ctrl,
		lister:        lister,
		snapshots:     ctrl.Subscribe(ctx),
		snap:          ctrl.Current(),
		cache:         make(map[string]renderedMessage),
		ExportDir:     exportDir,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.TextInput.Cursor.BlinkCmd(),
		m.Spinner.Tick,
		m.waitForSnapshot(),
		m.loadModels(),
	)
}

func NewProgram(m *Model) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen())
}

func (m *Model) waitForSnapshot() tea.Cmd {
	ch := m.snapshots
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return subscriptionEnd{}
		}
		return snapshotMsg(snap)
	}
}

func (m *Model) loadModels() tea.Cmd {
	if m.lister == nil {
		return nil
	}
	return func() tea.Msg {
		opts := m.lister.ListModels(m.ctx)
		return modelsLoadedMsg{Options: opts, Resolved: m.ctrl.ResolveModel(m.ctx, opts)}
	}
}
