package proxy

import (
	"fmt"

	"arclight/internal/models"
	"arclight/internal/stream"
)

// translator turns upstream chunks into part events. Reasoning and text are
// separate parts; switching between them closes the open part and starts a
// new one, so parts stay in generation order.
type translator struct {
	open    string
	kind    models.PartKind
	counter int
	finish  string
}

func (t *translator) next(kind models.PartKind) []stream.Event {
	var evs []stream.Event
	if t.open != "" {
		evs = append(evs, stream.PartEnd(t.open))
	}
	t.counter++
	t.open = fmt.Sprintf("%s-%d", kind, t.counter)
	t.kind = kind
	return append(evs, stream.PartStart(t.open, kind))
}

// feed returns the events produced by one chunk.
func (t *translator) feed(c Chunk) []stream.Event {
	var evs []stream.Event
	if c.Reasoning != "" {
		if t.open == "" || t.kind != models.PartReasoning {
			evs = append(evs, t.next(models.PartReasoning)...)
		}
		evs = append(evs, stream.PartDelta(t.open, c.Reasoning))
	}
	if c.Content != "" {
		if t.open == "" || t.kind != models.PartText {
			evs = append(evs, t.next(models.PartText)...)
		}
		evs = append(evs, stream.PartDelta(t.open, c.Content))
	}
	if c.FinishReason != "" {
		t.finish = c.FinishReason
	}
	return evs
}

// close ends the open part, if any.
func (t *translator) close() []stream.Event {
	if t.open == "" {
		return nil
	}
	id := t.open
	t.open = ""
	return []stream.Event{stream.PartEnd(id)}
}
