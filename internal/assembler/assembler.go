// Package assembler turns a turn's stream events into message-list
// snapshots.
//
// The state machine is expressed as pure functions over State: Transition,
// Abort and Fail never mutate their input, and every accepted event yields a
// Snapshot that callers may persist or display directly. Assembler wraps the
// functions for a single turn and logs protocol violations.
package assembler

import (
	"errors"
	"fmt"
	"log/slog"

	"arclight/internal/models"
	"arclight/internal/stream"
)

type Phase int

const (
	Idle Phase = iota
	Receiving
	Settled
	Aborted
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Receiving:
		return "receiving"
	case Settled:
		return "settled"
	case Aborted:
		return "aborted"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) Terminal() bool {
	return p == Settled || p == Aborted || p == Failed
}

var (
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrStreamTruncated marks a stream that ended before message-end.
	ErrStreamTruncated = errors.New("stream ended before message-end")
)

// StreamError carries the text of an error event sent by the proxy.
type StreamError struct {
	Text string
}

func (e *StreamError) Error() string {
	if e.Text == "" {
		return "stream error"
	}
	return "stream error: " + e.Text
}

// Snapshot is an immutable view of the full message list after an accepted
// event.
type Snapshot struct {
	Phase    Phase
	Messages []models.Message
	Err      error
}

type partSlot struct {
	index   int
	kind    models.PartKind
	settled bool
}

// State is the per-turn assembly state. The zero value is not usable; start
// from NewState.
type State struct {
	Phase    Phase
	Messages []models.Message
	Err      error

	current int
	parts   map[string]partSlot
}

// NewState starts a turn on top of history. history is shared, not copied,
// and must not be mutated afterwards.
func NewState(history []models.Message) State {
	return State{
		Phase:    Idle,
		Messages: history,
		current:  -1,
		parts:    map[string]partSlot{},
	}
}

func (s State) snapshot() *Snapshot {
	return &Snapshot{Phase: s.Phase, Messages: s.Messages, Err: s.Err}
}

// withCurrent returns a copy of s whose in-flight message can be modified
// without touching any earlier snapshot.
func (s State) withCurrent() State {
	msgs := make([]models.Message, len(s.Messages))
	copy(msgs, s.Messages)
	if s.current >= 0 {
		msgs[s.current] = msgs[s.current].Clone()
	}
	parts := make(map[string]partSlot, len(s.parts))
	for k, v := range s.parts {
		parts[k] = v
	}
	s.Messages = msgs
	s.parts = parts
	return s
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...))
}

// Transition applies ev to s. It returns the next state, the snapshot to
// publish (nil when nothing changed) and a non-nil error for protocol
// violations. A violation that leaves the phase unchanged means the event
// was dropped; one that moves the state to Failed ended the turn.
func Transition(s State, ev stream.Event) (State, *Snapshot, error) {
	if s.Phase.Terminal() {
		return s, nil, violation("%s after turn reached %s", ev.Type, s.Phase)
	}
	if err := ev.Validate(); err != nil {
		return s, nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}

	switch ev.Type {
	case stream.EventMessageStart:
		if s.Phase == Receiving {
			return failed(s, violation("second message-start in one turn"))
		}
		next := s.withCurrent()
		id := ev.MessageID
		if id == "" {
			id = fmt.Sprintf("msg-%d", len(next.Messages))
		}
		next.Messages = append(next.Messages, models.Message{
			ID:    id,
			Role:  models.RoleAssistant,
			Parts: []models.Part{},
		})
		next.current = len(next.Messages) - 1
		next.Phase = Receiving
		return next, next.snapshot(), nil

	case stream.EventPartStart:
		if s.current < 0 {
			return failed(s, violation("part-start before message-start"))
		}
		if _, dup := s.parts[ev.PartID]; dup {
			return s, nil, violation("duplicate part-start for %q", ev.PartID)
		}
		next := s.withCurrent()
		msg := &next.Messages[next.current]
		part := models.Part{Type: ev.Kind}
		switch ev.Kind {
		case models.PartImage:
			part.Image = ev.Image
		default:
			part.State = models.StateStreaming
		}
		msg.Parts = append(msg.Parts, part)
		next.parts[ev.PartID] = partSlot{index: len(msg.Parts) - 1, kind: ev.Kind}
		return next, next.snapshot(), nil

	case stream.EventPartDelta:
		if s.current < 0 {
			return failed(s, violation("part-delta before message-start"))
		}
		slot, ok := s.parts[ev.PartID]
		if !ok {
			return s, nil, violation("delta for unknown part %q", ev.PartID)
		}
		if slot.settled {
			return s, nil, violation("delta for settled part %q", ev.PartID)
		}
		if slot.kind == models.PartImage {
			return s, nil, violation("delta for image part %q", ev.PartID)
		}
		next := s.withCurrent()
		next.Messages[next.current].Parts[slot.index].Text += ev.Delta
		return next, next.snapshot(), nil

	case stream.EventPartEnd:
		if s.current < 0 {
			return failed(s, violation("part-end before message-start"))
		}
		slot, ok := s.parts[ev.PartID]
		if !ok {
			return s, nil, violation("part-end for unknown part %q", ev.PartID)
		}
		if slot.settled {
			return s, nil, violation("part-end for settled part %q", ev.PartID)
		}
		next := s.withCurrent()
		slot.settled = true
		next.parts[ev.PartID] = slot
		if slot.kind != models.PartImage {
			next.Messages[next.current].Parts[slot.index].State = models.StateDone
		}
		return next, next.snapshot(), nil

	case stream.EventMessageEnd:
		next := settleAll(s)
		next.Phase = Settled
		return next, next.snapshot(), nil

	case stream.EventError:
		next := settleAll(s)
		next.Phase = Failed
		next.Err = &StreamError{Text: ev.ErrorText}
		return next, next.snapshot(), nil
	}

	return s, nil, violation("unhandled event %q", ev.Type)
}

func failed(s State, err error) (State, *Snapshot, error) {
	next := settleAll(s)
	next.Phase = Failed
	next.Err = err
	return next, next.snapshot(), err
}

// settleAll freezes every open part of the in-flight message.
func settleAll(s State) State {
	next := s.withCurrent()
	for id, slot := range next.parts {
		if slot.settled {
			continue
		}
		slot.settled = true
		next.parts[id] = slot
		if slot.kind != models.PartImage && next.current >= 0 {
			next.Messages[next.current].Parts[slot.index].State = models.StateDone
		}
	}
	return next
}

// Abort ends the turn on the caller's request. Partial content is kept and
// no error is recorded. Aborting a finished turn is a no-op.
func Abort(s State) (State, *Snapshot) {
	if s.Phase.Terminal() {
		return s, nil
	}
	next := settleAll(s)
	next.Phase = Aborted
	return next, next.snapshot()
}

// Fail ends the turn because of a transport failure. Partial content is
// kept. Failing a finished turn is a no-op.
func Fail(s State, err error) (State, *Snapshot) {
	if s.Phase.Terminal() {
		return s, nil
	}
	next := settleAll(s)
	next.Phase = Failed
	next.Err = err
	return next, next.snapshot()
}

// Assembler drives State for one turn. It is discarded when the turn ends.
type Assembler struct {
	state  State
	logger *slog.Logger
}

// New creates an assembler on top of history. Pass nil logger for default.
func New(history []models.Message, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		state:  NewState(history),
		logger: logger.With("component", "assembler"),
	}
}

// Apply feeds one event. Dropped violations are logged and return nil.
func (a *Assembler) Apply(ev stream.Event) *Snapshot {
	next, snap, err := Transition(a.state, ev)
	if err != nil {
		if next.Phase == Failed {
			a.logger.Error("protocol violation ended turn", "event", ev.Type, "error", err)
		} else {
			a.logger.Warn("dropping stream event", "event", ev.Type, "part", ev.PartID, "error", err)
		}
	}
	a.state = next
	return snap
}

func (a *Assembler) Abort() *Snapshot {
	next, snap := Abort(a.state)
	a.state = next
	return snap
}

func (a *Assembler) Fail(err error) *Snapshot {
	next, snap := Fail(a.state, err)
	a.state = next
	return snap
}

func (a *Assembler) Phase() Phase {
	return a.state.Phase
}

func (a *Assembler) State() State {
	return a.state
}
