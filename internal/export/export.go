// Package export converts a message list into a downloadable document.
package export

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"arclight/internal/models"
)

type Format string

const (
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "", "md", "markdown":
		return FormatMarkdown, nil
	case "html", "htm":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

const (
	messageSeparator = "\n\n---\n\n"
	partSeparator    = "\n\n"
)

// Markdown renders one `## User` / `## Assistant` section per message.
// Reasoning is labelled and placed ahead of the message's other parts.
func Markdown(msgs []models.Message) string {
	sections := make([]string, 0, len(msgs))
	for _, m := range msgs {
		sections = append(sections, "## "+roleHeading(m.Role)+partSeparator+renderParts(m.Parts))
	}
	return strings.Join(sections, messageSeparator)
}

func roleHeading(r models.Role) string {
	if r == models.RoleUser {
		return "User"
	}
	return "Assistant"
}

func renderParts(parts []models.Part) string {
	var reasoning, rest []string
	images := 0
	for _, p := range parts {
		switch p.Type {
		case models.PartReasoning:
			reasoning = append(reasoning, "**Reasoning:**\n"+p.Text)
		case models.PartText:
			rest = append(rest, p.Text)
		case models.PartImage:
			images++
			rest = append(rest, fmt.Sprintf("![image %d](%s)", images, p.Image))
		}
	}
	return strings.Join(append(reasoning, rest...), partSeparator)
}

// HTML renders the Markdown export as an HTML fragment.
func HTML(msgs []models.Message) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(Markdown(msgs)), &buf); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}
	return buf.String(), nil
}

// FileName returns chat-YYYY-MM-DDTHH-MM-SS.<ext> for t in UTC.
func FileName(t time.Time, f Format) string {
	stamp := strings.ReplaceAll(t.UTC().Format("2006-01-02T15:04:05"), ":", "-")
	return "chat-" + stamp + "." + string(f)
}

// Render produces the document for f.
func Render(msgs []models.Message, f Format) ([]byte, error) {
	switch f {
	case FormatHTML:
		out, err := HTML(msgs)
		if err != nil {
			return nil, err
		}
		return []byte(out), nil
	default:
		return []byte(Markdown(msgs)), nil
	}
}

// WriteFile renders msgs into dir and returns the written path.
func WriteFile(dir string, msgs []models.Message, f Format, now time.Time) (string, error) {
	if len(msgs) == 0 {
		return "", fmt.Errorf("conversation has no messages")
	}
	data, err := Render(msgs, f)
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, FileName(now, f))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing export: %w", err)
	}
	return path, nil
}
