package ui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"arclight/internal/chat"
	"arclight/internal/export"
	"arclight/internal/styles"
)

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case spinner.TickMsg:
		var spCmd tea.Cmd
		m.Spinner, spCmd = m.Spinner.Update(msg)
		if m.snap.Streaming {
			m.UpdateViewport()
		}
		return m, spCmd

	case snapshotMsg:
		m.snap = chat.Snapshot(msg)
		m.UpdateViewport()
		return m, m.waitForSnapshot()

	case subscriptionEnd:
		return m, nil

	case turnDoneMsg:
		switch {
		case errors.Is(msg.Err, chat.ErrTurnInFlight):
			m.Status = "A response is still streaming"
		case msg.Err != nil:
			m.Err = msg.Err
		default:
			m.Err = nil
		}
		m.UpdateViewport()
		return m, nil

	case modelsLoadedMsg:
		m.ModelOptions = msg.Options
		m.SelectedModelIndex = m.modelIndex(msg.Resolved)
		return m, nil

	case exportDoneMsg:
		if msg.Err != nil {
			m.Err = msg.Err
		} else {
			m.Status = "Exported to " + msg.Path
		}
		return m, nil

	case tea.KeyMsg:
		if m.HistoryOpen {
			return m, m.updateHistory(msg)
		}
		if m.ModelSelectorOpen {
			return m, m.updateModelSelector(msg)
		}
		if m.ShortcutsOpen {
			switch msg.String() {
			case "ctrl+c":
				m.ctrl.Abort()
				return m, tea.Quit
			case "esc", "enter", "?", "ctrl+s":
				m.ShortcutsOpen = false
			}
			return m, nil
		}

		if isNewlineShortcut(msg) {
			m.TextInput.InsertString("\n")
			m.updateInputLayout()
			return m, nil
		}

		switch msg.Type {
		case tea.KeyCtrlC:
			m.ctrl.Abort()
			return m, tea.Quit

		case tea.KeyEsc, tea.KeyCtrlX:
			if m.ctrl.Abort() {
				m.Status = "Stopped"
			}
			return m, nil

		case tea.KeyCtrlN:
			m.newChat()
			return m, nil

		case tea.KeyCtrlB:
			m.ModelSelectorOpen = true
			m.HistoryOpen = false
			m.ShortcutsOpen = false
			m.SelectedModelIndex = m.modelIndex(m.snap.Model)
			m.UpdateModelSelectorContent()
			m.SyncModelViewportScroll()
			return m, nil

		case tea.KeyCtrlS:
			m.ShortcutsOpen = true
			m.ModelSelectorOpen = false
			m.HistoryOpen = false
			return m, nil

		case tea.KeyCtrlH:
			m.ModelSelectorOpen = false
			m.ShortcutsOpen = false
			m.HistoryOpen = true
			m.HistoryPage = 0
			m.HistorySelectedIdx = 0
			m.RefreshHistory()
			return m, nil

		case tea.KeyCtrlE:
			return m, m.exportCmd()

		case tea.KeyEnter:
			return m, m.submitInput()
		}

	case tea.WindowSizeMsg:
		m.resize(msg)
		return m, nil
	}

	m.TextInput, tiCmd = m.TextInput.Update(msg)
	m.updateInputLayout()

	// terminal background and cursor reports sometimes leak into the input
	val := m.TextInput.Value()
	if strings.Contains(val, "]11;rgb:") || strings.Contains(val, "1;rgb:") || strings.Contains(val, "[1;1R") {
		m.TextInput.Reset()
	}

	m.Viewport, vpCmd = m.Viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

func (m *Model) updateHistory(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c":
		m.ctrl.Abort()
		return tea.Quit
	case "esc", "ctrl+h":
		m.HistoryOpen = false
		m.HistoryErr = nil
	case "up", "k":
		n := len(m.historyPageItems())
		if n == 0 {
			return nil
		}
		m.HistorySelectedIdx--
		if m.HistorySelectedIdx < 0 {
			m.HistorySelectedIdx = n - 1
		}
	case "down", "j":
		n := len(m.historyPageItems())
		if n == 0 {
			return nil
		}
		m.HistorySelectedIdx++
		if m.HistorySelectedIdx >= n {
			m.HistorySelectedIdx = 0
		}
	case "left", "h":
		if m.HistoryPage > 0 {
			m.HistoryPage--
			m.HistorySelectedIdx = 0
		}
	case "right", "l":
		if m.HistoryPage < m.historyPages()-1 {
			m.HistoryPage++
			m.HistorySelectedIdx = 0
		}
	case "enter":
		conv, ok := m.selectedHistoryChat()
		if !ok {
			return nil
		}
		if err := m.ctrl.Select(m.ctx, conv.ID); err != nil {
			m.HistoryErr = err
			return nil
		}
		m.HistoryOpen = false
		m.HistoryErr = nil
		m.Err = nil
		m.Status = ""
	case "d", "delete":
		conv, ok := m.selectedHistoryChat()
		if !ok {
			return nil
		}
		if err := m.ctrl.Delete(m.ctx, conv.ID); err != nil {
			m.HistoryErr = err
			return nil
		}
		delete(m.cache, conv.ID)
		m.RefreshHistory()
	}
	return nil
}

func (m *Model) updateModelSelector(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c":
		m.ctrl.Abort()
		return tea.Quit
	case "esc", "ctrl+b":
		m.ModelSelectorOpen = false
	case "up", "k":
		if len(m.ModelOptions) == 0 {
			return nil
		}
		m.SelectedModelIndex--
		if m.SelectedModelIndex < 0 {
			m.SelectedModelIndex = len(m.ModelOptions) - 1
		}
		m.SyncModelViewportScroll()
		m.UpdateModelSelectorContent()
	case "down", "j":
		if len(m.ModelOptions) == 0 {
			return nil
		}
		m.SelectedModelIndex++
		if m.SelectedModelIndex >= len(m.ModelOptions) {
			m.SelectedModelIndex = 0
		}
		m.SyncModelViewportScroll()
		m.UpdateModelSelectorContent()
	case "enter":
		if m.SelectedModelIndex < len(m.ModelOptions) {
			if err := m.ctrl.SetModel(m.ctx, m.ModelOptions[m.SelectedModelIndex].Value); err != nil {
				m.Err = err
			}
		}
		m.ModelSelectorOpen = false
	}
	return nil
}

// submitInput handles slash commands locally and otherwise starts a turn.
// The turn runs in a command; its progress arrives as snapshots.
func (m *Model) submitInput() tea.Cmd {
	input := strings.TrimSpace(m.TextInput.Value())

	switch {
	case input == "/clear" || input == "/new":
		m.TextInput.Reset()
		m.updateInputLayout()
		m.newChat()
		return nil
	case strings.HasPrefix(input, "/image "):
		path := strings.TrimSpace(strings.TrimPrefix(input, "/image "))
		uri, err := ImageDataURI(path)
		if err != nil {
			m.Err = err
			return nil
		}
		m.PendingImages = append(m.PendingImages, uri)
		m.Err = nil
		m.Status = fmt.Sprintf("Attached %d image(s)", len(m.PendingImages))
		m.TextInput.Reset()
		m.updateInputLayout()
		return nil
	}

	if input == "" && len(m.PendingImages) == 0 {
		return nil
	}
	// the running turn may belong to a conversation that is not displayed;
	// keep the draft and attachments until it finishes
	if m.snap.Streaming || m.ctrl.InFlight() {
		m.Status = "A response is still streaming"
		return nil
	}

	text := m.TextInput.Value()
	if input == "" {
		text = ""
	}
	in := chat.TurnInput{Text: text, Images: m.PendingImages}
	m.PendingImages = nil
	m.TextInput.Reset()
	m.updateInputLayout()
	m.Err = nil
	m.Status = ""

	ctrl, ctx := m.ctrl, m.ctx
	return tea.Batch(func() tea.Msg {
		res, err := ctrl.Submit(ctx, in)
		return turnDoneMsg{Result: res, Err: err}
	}, m.Spinner.Tick)
}

func (m *Model) newChat() {
	if _, err := m.ctrl.NewChat(m.ctx); err != nil {
		m.Err = err
		return
	}
	m.Err = nil
	m.Status = ""
	m.PendingImages = nil
}

func (m *Model) exportCmd() tea.Cmd {
	msgs := m.ctrl.Messages()
	if len(msgs) == 0 {
		m.Status = "Nothing to export"
		return nil
	}
	dir := m.ExportDir
	return func() tea.Msg {
		path, err := export.WriteFile(dir, msgs, export.FormatMarkdown, time.Now())
		return exportDoneMsg{Path: path, Err: err}
	}
}

// RefreshHistory reloads the conversation list from the controller.
func (m *Model) RefreshHistory() {
	m.HistoryErr = nil
	m.HistoryChats = m.ctrl.Conversations(m.ctx)
	if m.HistoryPage >= m.historyPages() {
		m.HistoryPage = m.historyPages() - 1
	}
	if n := len(m.historyPageItems()); m.HistorySelectedIdx >= n {
		m.HistorySelectedIdx = max(n-1, 0)
	}
}

func (m *Model) resize(msg tea.WindowSizeMsg) {
	m.WindowWidth = msg.Width
	m.WindowHeight = msg.Height

	ModalWidth = min(max(msg.Width-10, 30), 60)
	styles.ContentWidth = ModalWidth - 6

	m.ModelViewport.Width = styles.ContentWidth
	m.ModelViewport.Height = min(max(msg.Height-15, 5), 20)

	chatWidth := min(msg.Width-2, MaxChatWidth)
	m.Viewport.Width = chatWidth - 2

	m.updateInputLayout()
	glamourStyle := "dark"
	if !lipgloss.HasDarkBackground() {
		glamourStyle = "light"
	}
	m.Renderer, _ = glamour.NewTermRenderer(
		glamour.WithStylePath(glamourStyle),
		glamour.WithWordWrap(chatWidth-6),
	)
	clear(m.cache)
	m.UpdateViewport()
}

func isNewlineShortcut(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "shift+enter", "shift+return", "ctrl+j", "ctrl+enter", "alt+enter":
		return true
	default:
		return false
	}
}

func (m *Model) updateInputLayout() {
	if m.WindowWidth == 0 || m.WindowHeight == 0 {
		return
	}

	inputWidth := max(m.WindowWidth-6, 20)
	contentWidth := max(inputWidth-2, 1)

	lineCount := WrappedLineCount(m.TextInput.Value(), contentWidth)
	lineCount = min(max(lineCount, 1), maxInputHeight)

	m.TextInput.MaxHeight = maxInputHeight
	m.TextInput.SetWidth(inputWidth)
	m.TextInput.SetHeight(lineCount)

	inputBoxHeight := m.TextInput.Height() + 2
	reserved := inputBoxHeight + 6
	m.Viewport.Height = max(m.WindowHeight-reserved, 5)
}
