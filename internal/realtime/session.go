package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/aura-chat/backend/internal/event"
)

var (
	// ErrSessionClosed is returned by operations on a session that has left.
	ErrSessionClosed = errors.New("session closed")
	// ErrNotJoined is returned when a session sends before it has joined.
	ErrNotJoined = errors.New("session not joined")
)

// State is the lifecycle position of a session.
type State int32

const (
	StateConnecting State = iota
	StateJoined
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is one participant's presence in the room. It is created by
// Hub.Join and owned by the hub until it reaches StateClosed.
type Session struct {
	id          string
	participant string
	hub         *Hub

	// state is written only under hub.mu.
	state atomic.Int32

	mu      sync.Mutex
	backlog []event.Event

	send      chan event.Event
	done      chan struct{}
	closeOnce sync.Once
	// reason is set before done is closed.
	reason string
}

func newSession(h *Hub, participant string, buffer int) *Session {
	return &Session{
		id:          uuid.New().String(),
		participant: participant,
		hub:         h,
		send:        make(chan event.Event, buffer),
		done:        make(chan struct{}),
	}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Participant returns the name bound at join.
func (s *Session) Participant() string { return s.participant }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) markClosed(reason string) {
	s.closeOnce.Do(func() {
		s.reason = reason
		close(s.done)
	})
}

func (s *Session) setBacklog(events []event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backlog = append([]event.Event(nil), events...)
}

// Next returns the next event to hand to the transport: the replay backlog
// first, then live events in delivery order.
func (s *Session) Next(ctx context.Context) (event.Event, error) {
	select {
	case <-s.done:
		return event.Event{}, ErrSessionClosed
	default:
	}

	s.mu.Lock()
	if len(s.backlog) > 0 {
		e := s.backlog[0]
		s.backlog = s.backlog[1:]
		s.mu.Unlock()
		return e, nil
	}
	s.mu.Unlock()

	select {
	case e := <-s.send:
		return e, nil
	case <-s.done:
		return event.Event{}, ErrSessionClosed
	case <-ctx.Done():
		return event.Event{}, ctx.Err()
	}
}

// Send publishes body as a message from this session's participant.
// A body that is empty or only whitespace is dropped without error.
func (s *Session) Send(ctx context.Context, body string) error {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	_, err := s.hub.publish(ctx, s, event.Message(s.participant, body))
	return err
}

// Close leaves the room. Calling it more than once is a no-op.
func (s *Session) Close() {
	s.hub.Leave(s)
}
