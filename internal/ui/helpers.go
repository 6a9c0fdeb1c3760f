package ui

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"arclight/internal/models"
	"arclight/internal/styles"
)

// MaxImageBytes bounds /image attachments; the proxy rejects larger bodies.
const MaxImageBytes = 8 << 20

// ImageDataURI reads an image file and encodes it as a base64 data URI.
func ImageDataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading image: %w", err)
	}
	if len(data) > MaxImageBytes {
		return "", fmt.Errorf("image %s is larger than %d MiB", path, MaxImageBytes>>20)
	}
	mediaType := http.DetectContentType(data)
	if !strings.HasPrefix(mediaType, "image/") {
		return "", fmt.Errorf("%s is not an image (%s)", path, mediaType)
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func WrappedLineCount(value string, width int) int {
	if width <= 0 {
		return 1
	}
	count := 0
	for _, line := range strings.Split(value, "\n") {
		w := runewidth.StringWidth(line)
		if w == 0 {
			count++
			continue
		}
		count += (w-1)/width + 1
	}
	return count
}

func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}

func RelativeTime(t, now time.Time) string {
	d := now.Sub(t)
	if d < 0 {
		d = -d
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "min")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hr")
	}
	days := int(d.Hours() / 24)
	if days < 14 {
		return plural(days, "day")
	}
	return plural(days/7, "week")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

func (m *Model) historyPages() int {
	return max((len(m.HistoryChats)+HistoryPageSize-1)/HistoryPageSize, 1)
}

func (m *Model) historyPageItems() []models.Conversation {
	start := m.HistoryPage * HistoryPageSize
	if start >= len(m.HistoryChats) {
		return nil
	}
	end := min(start+HistoryPageSize, len(m.HistoryChats))
	return m.HistoryChats[start:end]
}

func (m *Model) selectedHistoryChat() (models.Conversation, bool) {
	items := m.historyPageItems()
	if m.HistorySelectedIdx < 0 || m.HistorySelectedIdx >= len(items) {
		return models.Conversation{}, false
	}
	return items[m.HistorySelectedIdx], true
}

func (m *Model) modelIndex(value string) int {
	for i, o := range m.ModelOptions {
		if o.Value == value {
			return i
		}
	}
	return 0
}

// modelLabel prefers the picker label for value.
func (m *Model) modelLabel(value string) string {
	for _, o := range m.ModelOptions {
		if o.Value == value && o.Label != "" {
			return o.Label
		}
	}
	return value
}

// SyncModelViewportScroll keeps the highlighted row inside the picker viewport.
func (m *Model) SyncModelViewportScroll() {
	y := m.SelectedModelIndex
	if y >= m.ModelViewport.YOffset+m.ModelViewport.Height {
		m.ModelViewport.SetYOffset(y - m.ModelViewport.Height + 1)
	}
	if y < m.ModelViewport.YOffset {
		m.ModelViewport.SetYOffset(y)
	}
}

func FormatUserMessage(msg models.Message, width int) string {
	label := styles.UserLabelStyle.Render("YOU")
	var lines []string
	images := 0
	for _, p := range msg.Parts {
		switch p.Type {
		case models.PartImage:
			images++
			lines = append(lines, styles.ImageChipStyle.Render(fmt.Sprintf("image %d", images)))
		case models.PartText:
			lines = append(lines, p.Text)
		}
	}
	body := styles.UserMsgStyle.Width(max(width-4, 10)).Render(strings.Join(lines, "\n"))
	return label + "\n" + body
}

// renderMarkdown runs text through glamour when a renderer is available.
func (m *Model) renderMarkdown(text string) string {
	if m.Renderer == nil {
		return text
	}
	out, err := m.Renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimSpace(out)
}

// FormatAIMessage renders reasoning first, then text, then images. Settled
// messages are cached by id.
func (m *Model) FormatAIMessage(msg models.Message, settled bool) string {
	var src strings.Builder
	for _, p := range msg.Parts {
		src.WriteString(string(p.Type))
		src.WriteString(string(p.State))
		src.WriteString(p.Text)
		src.WriteString(p.Image)
	}
	if settled {
		if c, ok := m.cache[msg.ID]; ok && c.source == src.String() {
			return c.out
		}
	}

	var reasoning, text, images []string
	for _, p := range msg.Parts {
		switch p.Type {
		case models.PartReasoning:
			if p.Text != "" {
				reasoning = append(reasoning, p.Text)
			}
		case models.PartText:
			if p.Text != "" {
				text = append(text, p.Text)
			}
		case models.PartImage:
			images = append(images, styles.ImageChipStyle.Render(fmt.Sprintf("image %d", len(images)+1)))
		}
	}

	blocks := []string{styles.AiLabelStyle.Render("ARCLIGHT")}
	if len(reasoning) > 0 {
		blocks = append(blocks,
			styles.ReasoningLabelStyle.Render("Reasoning"),
			styles.ReasoningStyle.Render(strings.Join(reasoning, "\n\n")))
	}
	if len(text) > 0 {
		blocks = append(blocks, styles.AiMsgStyle.Render(m.renderMarkdown(strings.Join(text, "\n\n"))))
	}
	if len(images) > 0 {
		blocks = append(blocks, strings.Join(images, " "))
	}
	out := strings.Join(blocks, "\n")

	if settled {
		m.cache[msg.ID] = renderedMessage{source: src.String(), out: out}
	}
	return out
}
