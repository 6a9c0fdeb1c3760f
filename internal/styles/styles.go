package styles

import "github.com/charmbracelet/lipgloss"

var ContentWidth = 54

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Palette.Primary).
			Padding(0, 1)

	UserLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(Palette.User).
			Bold(true).
			Padding(0, 1).
			MarginRight(1)

	UserMsgStyle = lipgloss.NewStyle().
			Foreground(Palette.Text).
			PaddingLeft(2).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(Palette.User)

	AiLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(Palette.Primary).
			Bold(true).
			Padding(0, 1).
			MarginRight(1)

	AiMsgStyle = lipgloss.NewStyle().
			Foreground(Palette.Text).
			PaddingTop(1).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(Palette.Primary)

	ReasoningLabelStyle = lipgloss.NewStyle().
				Foreground(Palette.Reasoning).
				Italic(true).
				PaddingLeft(2)

	// ReasoningStyle keeps model reasoning visually apart from the answer.
	ReasoningStyle = lipgloss.NewStyle().
			Foreground(Palette.Muted).
			Italic(true).
			PaddingLeft(2).
			BorderLeft(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(Palette.Reasoning)

	ImageChipStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(Palette.Image).
			Padding(0, 1)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Palette.Error).
			Bold(true)

	InputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Palette.Primary).
			Padding(0, 1)

	BadgeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Padding(0, 1)

	BottomBarStyle = lipgloss.NewStyle().
			BorderTop(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(Palette.Border).
			Padding(0, 1)

	WelcomeArtStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"}).
			Bold(true)

	WelcomeSubtitleStyle = lipgloss.NewStyle().
				Foreground(Palette.Hint).
				Italic(true)

	ModalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Palette.Primary).
			Padding(1, 2)

	ModalTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Palette.Primary).
			Width(ContentWidth).
			MarginBottom(1)

	ModalItemStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Width(ContentWidth)

	ModalSelectedStyle = lipgloss.NewStyle().
				Padding(0, 1).
				Width(ContentWidth).
				Background(Palette.Selected).
				Foreground(lipgloss.Color("#FFFFFF"))

	ShortcutKeyStyle = lipgloss.NewStyle().
				Foreground(Palette.Warning).
				Bold(true).
				Width(12)

	ShortcutDescStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#E0E0E0"))

	HintColor = Palette.Hint
)
