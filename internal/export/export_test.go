package export

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arclight/internal/models"
)

func sample() []models.Message {
	return []models.Message{
		{ID: "u1", Role: models.RoleUser, Parts: []models.Part{
			models.ImagePart("data:image/png;base64,AA"),
			models.TextPart("What is this?"),
		}},
		{ID: "a1", Role: models.RoleAssistant, Parts: []models.Part{
			models.TextPart("A pixel."),
			models.ReasoningPart("It is tiny."),
		}},
	}
}

func TestMarkdown(t *testing.T) {
	want := "## User\n\n![image 1](data:image/png;base64,AA)\n\nWhat is this?" +
		"\n\n---\n\n" +
		"## Assistant\n\n**Reasoning:**\nIt is tiny.\n\nA pixel."
	assert.Equal(t, want, Markdown(sample()))
}

func TestMarkdownEmpty(t *testing.T) {
	assert.Equal(t, "", Markdown(nil))
}

func TestHTML(t *testing.T) {
	out, err := HTML(sample())
	require.NoError(t, err)
	assert.Contains(t, out, "<h2>User</h2>")
	assert.Contains(t, out, "<h2>Assistant</h2>")
	assert.Contains(t, out, "<strong>Reasoning:</strong>")
	assert.Contains(t, out, "<hr")
}

func TestFileName(t *testing.T) {
	ts := time.Date(2025, 3, 9, 14, 5, 7, 0, time.UTC)
	assert.Equal(t, "chat-2025-03-09T14-05-07.md", FileName(ts, FormatMarkdown))
	assert.Equal(t, "chat-2025-03-09T14-05-07.html", FileName(ts, FormatHTML))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("markdown")
	require.NoError(t, err)
	assert.Equal(t, FormatMarkdown, f)

	f, err = ParseFormat(".HTML")
	require.NoError(t, err)
	assert.Equal(t, FormatHTML, f)

	_, err = ParseFormat("pdf")
	assert.Error(t, err)
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	path, err := WriteFile(dir, sample(), FormatMarkdown, ts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "chat-2025-01-02T03-04-05.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Markdown(sample()), string(data))

	_, err = WriteFile(dir, nil, FormatMarkdown, ts)
	assert.Error(t, err)
}
