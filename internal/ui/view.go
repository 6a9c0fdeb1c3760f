package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"arclight/internal/assembler"
	"arclight/internal/models"
	"arclight/internal/styles"
)

func (m *Model) UpdateModelSelectorContent() {
	if len(m.ModelOptions) == 0 {
		m.ModelViewport.SetContent(styles.ModalItemStyle.Render(
			lipgloss.NewStyle().Foreground(styles.HintColor).Render("No models available")))
		return
	}

	items := make([]string, 0, len(m.ModelOptions))
	for i, opt := range m.ModelOptions {
		name := opt.Label
		if name == "" {
			name = opt.Value
		}
		isCurrent := opt.Value == m.snap.Model
		if isCurrent {
			name = "● " + name
		} else {
			name = "  " + name
		}

		if i == m.SelectedModelIndex {
			items = append(items, styles.ModalSelectedStyle.Width(styles.ContentWidth).Render(name))
			continue
		}
		style := styles.ModalItemStyle.Width(styles.ContentWidth).Foreground(styles.Palette.Text)
		if isCurrent {
			style = style.Foreground(styles.Palette.User)
		}
		items = append(items, style.Render(name))
	}
	m.ModelViewport.SetContent(lipgloss.JoinVertical(lipgloss.Left, items...))
}

func (m *Model) RenderModelSelector() string {
	title := styles.ModalTitleStyle.Render("Select Model")
	content := lipgloss.JoinVertical(lipgloss.Left, title, m.ModelViewport.View())
	return lipgloss.JoinVertical(lipgloss.Left, content, modalHint("↑/↓: navigate • Enter: select • Esc: close"))
}

func (m *Model) RenderHistorySelector() string {
	title := styles.ModalTitleStyle.Render(fmt.Sprintf("Conversations (%d) - Page %d/%d",
		len(m.HistoryChats), m.HistoryPage+1, m.historyPages()))

	var body string
	items := m.historyPageItems()
	switch {
	case m.HistoryErr != nil:
		body = lipgloss.NewStyle().Width(styles.ContentWidth).Render(
			styles.ErrorStyle.Render(fmt.Sprintf("Error: %v", m.HistoryErr)))
	case len(items) == 0:
		body = styles.ModalItemStyle.Render(lipgloss.NewStyle().Foreground(styles.HintColor).Render("No chats yet"))
	default:
		now := time.Now()
		lines := make([]string, 0, len(items))
		for i, conv := range items {
			cursor := "  "
			if i == m.HistorySelectedIdx {
				cursor = "> "
			}
			active := " "
			if conv.ID == m.snap.ConversationID {
				active = "●"
			}
			when := RelativeTime(time.UnixMilli(conv.UpdatedAt), now)
			avail := styles.ContentWidth - 4 - len(cursor) - len(when)
			line := fmt.Sprintf("%s%s %s %s", cursor, active, TruncateRunes(conv.Title, avail),
				lipgloss.NewStyle().Foreground(styles.HintColor).Render(when))
			if i == m.HistorySelectedIdx {
				lines = append(lines, styles.ModalSelectedStyle.Render(line))
			} else {
				lines = append(lines, styles.ModalItemStyle.Render(line))
			}
		}
		body = lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, body)
	return lipgloss.JoinVertical(lipgloss.Left, content,
		modalHint("↑/↓: navigate • ←/→: page • Enter: open • d: delete • Esc: close"))
}

func (m *Model) RenderShortcutsModal() string {
	title := styles.ModalTitleStyle.Render("Keyboard Shortcuts")

	shortcuts := []struct {
		key  string
		desc string
	}{
		{"Ctrl+C", "Quit"},
		{"Enter", "Send message"},
		{"Alt+Enter", "Insert newline"},
		{"Esc/Ctrl+X", "Stop streaming response"},
		{"Ctrl+N", "New chat"},
		{"Ctrl+B", "Select model"},
		{"Ctrl+H", "Conversations"},
		{"Ctrl+E", "Export chat to Markdown"},
		{"Ctrl+S", "Shortcuts (this menu)"},
		{"/image", "Attach an image file"},
	}

	items := make([]string, 0, len(shortcuts))
	for _, s := range shortcuts {
		line := fmt.Sprintf("%s %s", styles.ShortcutKeyStyle.Render(s.key), styles.ShortcutDescStyle.Render(s.desc))
		items = append(items, styles.ModalItemStyle.Render(line))
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, items...))
	return lipgloss.JoinVertical(lipgloss.Left, content, modalHint("Esc/Enter: close"))
}

func modalHint(text string) string {
	return lipgloss.NewStyle().
		Foreground(styles.HintColor).
		Width(styles.ContentWidth).
		PaddingTop(1).
		Render(text)
}

func (m *Model) RenderBottomBar() string {
	badge, color := "IDLE", styles.Palette.Muted
	switch m.snap.Phase {
	case assembler.Receiving:
		badge, color = "STREAMING", styles.Palette.Primary
	case assembler.Settled:
		badge, color = "DONE", styles.Palette.Success
	case assembler.Aborted:
		badge, color = "STOPPED", styles.Palette.Warning
	case assembler.Failed:
		badge, color = "FAILED", styles.Palette.Error
	}
	phase := styles.BadgeStyle.Background(color).Render(badge)

	title := m.snap.Title
	if title == "" {
		title = "No conversation"
	}
	titleText := lipgloss.NewStyle().Foreground(styles.Palette.Muted).Render(TruncateRunes(title, 30))
	model := lipgloss.NewStyle().Foreground(styles.Palette.Primary).Render(TruncateRunes(m.modelLabel(m.snap.Model), 25))

	right := fmt.Sprintf("%d msgs", len(m.snap.Messages))
	if m.Status != "" {
		right = m.Status + "  " + right
	}
	rightSide := lipgloss.JoinHorizontal(lipgloss.Center,
		lipgloss.NewStyle().Foreground(styles.Palette.Muted).Render(right),
		"  ",
		lipgloss.NewStyle().Foreground(styles.HintColor).Render("Help: ^S"))
	leftSide := lipgloss.JoinHorizontal(lipgloss.Center, phase, "  ", titleText, "  ", model)

	spacer := strings.Repeat(" ", max(m.WindowWidth-lipgloss.Width(leftSide)-lipgloss.Width(rightSide)-2, 0))
	bar := lipgloss.JoinHorizontal(lipgloss.Center, leftSide, spacer, rightSide)

	return styles.BottomBarStyle.Width(m.WindowWidth).Render(bar)
}

func (m *Model) RenderPendingImages() string {
	if len(m.PendingImages) == 0 {
		return ""
	}
	chips := make([]string, 0, len(m.PendingImages))
	for i := range m.PendingImages {
		chips = append(chips, styles.ImageChipStyle.Render(fmt.Sprintf("image %d", i+1)))
	}
	return lipgloss.NewStyle().Foreground(styles.Palette.Muted).Render("Attached: ") + strings.Join(chips, " ")
}

func GetWelcomeScreen(width, height int) string {
	art := `
 ╭──────────────────────────────────────────╮
 │                                          │
 │     ▄▀█ █▀█ █▀▀ █░░ █ █▀▀ █░█ ▀█▀        │
 │     █▀█ █▀▄ █▄▄ █▄▄ █ █▄█ █▀█ ░█░        │
 │                                          │
 ╰──────────────────────────────────────────╯
`
	subtitle := "Ask anything. Ctrl+S lists the shortcuts."

	content := lipgloss.JoinVertical(lipgloss.Center,
		styles.WelcomeArtStyle.Render(art), "", styles.WelcomeSubtitleStyle.Render(subtitle))
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, content)
}

// renderConversation draws every displayed message plus the turn status.
func (m *Model) renderConversation() string {
	msgs := m.snap.Messages
	blocks := make([]string, 0, len(msgs)+1)
	for i, msg := range msgs {
		switch msg.Role {
		case models.RoleUser:
			blocks = append(blocks, FormatUserMessage(msg, m.Viewport.Width))
		case models.RoleAssistant:
			inFlight := m.snap.Streaming && i == len(msgs)-1
			blocks = append(blocks, m.FormatAIMessage(msg, !inFlight))
		}
	}

	switch {
	case m.snap.Streaming:
		blocks = append(blocks, m.Spinner.View()+" Generating... (esc to stop)")
	case m.snap.Phase == assembler.Aborted:
		blocks = append(blocks, lipgloss.NewStyle().Foreground(styles.HintColor).Italic(true).Render("Response stopped."))
	case m.snap.Phase == assembler.Failed && m.snap.Err != nil:
		blocks = append(blocks, styles.ErrorStyle.Render(fmt.Sprintf("Error: %v", m.snap.Err)))
	}
	if m.Err != nil {
		blocks = append(blocks, styles.ErrorStyle.Render(fmt.Sprintf("Error: %v", m.Err)))
	}
	return strings.Join(blocks, "\n\n")
}

func (m *Model) UpdateViewport() {
	if len(m.snap.Messages) == 0 && !m.snap.Streaming && m.Err == nil {
		m.Viewport.SetContent(GetWelcomeScreen(m.Viewport.Width, m.Viewport.Height))
		return
	}
	m.Viewport.SetContent(m.renderConversation())
	m.Viewport.GotoBottom()
}

func (m *Model) View() string {
	if m.HistoryOpen {
		return m.overlay(m.RenderHistorySelector())
	}
	if m.ModelSelectorOpen {
		return m.overlay(m.RenderModelSelector())
	}
	if m.ShortcutsOpen {
		return m.overlay(m.RenderShortcutsModal())
	}

	inputBox := styles.InputBoxStyle.Width(max(m.WindowWidth-4, 20)).Render(m.TextInput.View())
	inputParts := []string{}
	if pending := m.RenderPendingImages(); pending != "" {
		inputParts = append(inputParts, pending)
	}
	inputParts = append(inputParts, inputBox)

	chatContent := lipgloss.JoinVertical(lipgloss.Center,
		styles.TitleStyle.Render("ARCLIGHT"),
		"",
		m.Viewport.View(),
		"",
		lipgloss.JoinVertical(lipgloss.Left, inputParts...),
	)
	chatArea := lipgloss.PlaceHorizontal(m.WindowWidth, lipgloss.Center, chatContent)
	return lipgloss.JoinVertical(lipgloss.Left, chatArea, m.RenderBottomBar())
}

func (m *Model) overlay(body string) string {
	modal := styles.ModalStyle.Width(ModalWidth).Render(body)
	return lipgloss.Place(m.WindowWidth, m.WindowHeight, lipgloss.Center, lipgloss.Center, modal)
}
