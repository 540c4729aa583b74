// Package event defines the chat protocol event and its JSON wire format.
// The same encoding is used for live WebSocket frames, GET /history and the
// Redis history list.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrMalformedEvent is returned when a payload does not describe a valid event.
var ErrMalformedEvent = errors.New("malformed event")

var validate = validator.New()

// Kind is the event_type of an event.
type Kind string

const (
	KindConnected    Kind = "connected"
	KindDisconnected Kind = "disconnected"
	KindMessage      Kind = "message"
)

// Valid reports whether k is one of the three protocol kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindConnected, KindDisconnected, KindMessage:
		return true
	}
	return false
}

// Event is one immutable protocol message: a presence change or a chat line.
type Event struct {
	Kind        Kind
	Participant string
	Body        string
}

// Connected returns the presence event announcing participant has joined.
func Connected(participant string) Event {
	return Event{Kind: KindConnected, Participant: participant}
}

// Disconnected returns the presence event announcing participant has left.
func Disconnected(participant string) Event {
	return Event{Kind: KindDisconnected, Participant: participant}
}

// Message returns a chat line sent by participant.
func Message(participant, body string) Event {
	return Event{Kind: KindMessage, Participant: participant, Body: body}
}

// wire is the JSON record exchanged with clients.
type wire struct {
	EventType Kind    `json:"event_type" validate:"required,oneof=connected disconnected message"`
	Username  string  `json:"username" validate:"required"`
	Message   *string `json:"message,omitempty"`
}

// Validate checks e against the protocol rules.
func Validate(e Event) error {
	var body *string
	if e.Kind == KindMessage || e.Body != "" {
		body = &e.Body
	}
	return validateWire(wire{EventType: e.Kind, Username: e.Participant, Message: body})
}

func validateWire(w wire) error {
	if err := validate.Struct(w); err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedEvent, err.Error())
	}
	if strings.TrimSpace(w.Username) == "" {
		return fmt.Errorf("%w: username is blank", ErrMalformedEvent)
	}
	switch w.EventType {
	case KindMessage:
		if w.Message == nil || *w.Message == "" {
			return fmt.Errorf("%w: message event without body", ErrMalformedEvent)
		}
	default:
		if w.Message != nil {
			return fmt.Errorf("%w: %s event must not carry a body", ErrMalformedEvent, w.EventType)
		}
	}
	return nil
}

// Decode parses and validates one wire-encoded event. Unknown fields and
// trailing data are rejected.
func Decode(data []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wire
	if err := dec.Decode(&w); err != nil {
		return Event{}, fmt.Errorf("%w: %s", ErrMalformedEvent, err.Error())
	}
	if _, err := dec.Token(); err != io.EOF {
		return Event{}, fmt.Errorf("%w: trailing data after event", ErrMalformedEvent)
	}
	if err := validateWire(w); err != nil {
		return Event{}, err
	}

	e := Event{Kind: w.EventType, Participant: w.Username}
	if w.Message != nil {
		e.Body = *w.Message
	}
	return e, nil
}

// Encode returns the wire encoding of e.
func Encode(e Event) ([]byte, error) {
	if err := Validate(e); err != nil {
		return nil, err
	}
	w := wire{EventType: e.Kind, Username: e.Participant}
	if e.Kind == KindMessage {
		body := e.Body
		w.Message = &body
	}
	return json.Marshal(w)
}

// MarshalJSON encodes e in the wire format.
func (e Event) MarshalJSON() ([]byte, error) {
	return Encode(e)
}

// UnmarshalJSON decodes and validates a wire event.
func (e *Event) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*e = decoded
	return nil
}

// Describe returns the display line for e.
func Describe(e Event) string {
	switch e.Kind {
	case KindConnected:
		return e.Participant + " has joined the chat."
	case KindDisconnected:
		return e.Participant + " has left the chat."
	default:
		return "[" + e.Participant + "]: " + e.Body
	}
}

// String implements fmt.Stringer with the display line.
func (e Event) String() string {
	return Describe(e)
}
