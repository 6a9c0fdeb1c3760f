// Package stream defines the assistant response wire events, their SSE
// framing, and the HTTP transport that carries them from the proxy.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"arclight/internal/models"
)

type EventType string

const (
	EventMessageStart EventType = "message-start"
	EventPartStart    EventType = "part-start"
	EventPartDelta    EventType = "part-delta"
	EventPartEnd      EventType = "part-end"
	EventMessageEnd   EventType = "message-end"
	EventError        EventType = "error"
)

var (
	ErrUnknownEvent   = errors.New("unknown stream event")
	ErrMalformedEvent = errors.New("malformed stream event")
)

// Event is one unit of the assistant response stream. Which fields are set
// depends on Type:
//
//	message-start  MessageID
//	part-start     PartID, Kind (Image for image parts)
//	part-delta     PartID, Delta
//	part-end       PartID
//	message-end    FinishReason (optional)
//	error          ErrorText
type Event struct {
	Type         EventType       `json:"type"`
	MessageID    string          `json:"messageId,omitempty"`
	PartID       string          `json:"partId,omitempty"`
	Kind         models.PartKind `json:"kind,omitempty"`
	Image        string          `json:"image,omitempty"`
	Delta        string          `json:"delta,omitempty"`
	FinishReason string          `json:"finishReason,omitempty"`
	ErrorText    string          `json:"errorText,omitempty"`
}

func MessageStart(messageID string) Event {
	return Event{Type: EventMessageStart, MessageID: messageID}
}

func PartStart(partID string, kind models.PartKind) Event {
	return Event{Type: EventPartStart, PartID: partID, Kind: kind}
}

func ImageStart(partID, dataURI string) Event {
	return Event{Type: EventPartStart, PartID: partID, Kind: models.PartImage, Image: dataURI}
}

func PartDelta(partID, delta string) Event {
	return Event{Type: EventPartDelta, PartID: partID, Delta: delta}
}

func PartEnd(partID string) Event {
	return Event{Type: EventPartEnd, PartID: partID}
}

func MessageEnd(finishReason string) Event {
	return Event{Type: EventMessageEnd, FinishReason: finishReason}
}

func ErrorEvent(text string) Event {
	return Event{Type: EventError, ErrorText: text}
}

// Validate checks that the fields required by the event type are present.
func (e Event) Validate() error {
	switch e.Type {
	case EventMessageStart, EventMessageEnd, EventError:
		return nil
	case EventPartStart:
		if e.PartID == "" {
			return fmt.Errorf("%w: part-start without partId", ErrMalformedEvent)
		}
		if _, err := models.ParsePartKind(string(e.Kind)); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if e.Kind == models.PartImage && e.Image == "" {
			return fmt.Errorf("%w: image part-start without image", ErrMalformedEvent)
		}
		return nil
	case EventPartDelta, EventPartEnd:
		if e.PartID == "" {
			return fmt.Errorf("%w: %s without partId", ErrMalformedEvent, e.Type)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
	}
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventMessageEnd || e.Type == EventError
}

// decodeEvent parses one SSE frame. The JSON type field wins over the SSE
// event name; the name is used only when the payload omits it.
func decodeEvent(name string, data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Type == "" {
		ev.Type = EventType(name)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	return ev, nil
}
