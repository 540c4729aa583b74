package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-chat/backend/internal/event"
	"github.com/aura-chat/backend/internal/history"
)

var (
	// ErrParticipantRequired is returned by Join for an empty or blank name.
	ErrParticipantRequired = errors.New("participant name required")
	// ErrParticipantTaken is returned by Join when a live session already holds the name.
	ErrParticipantTaken = errors.New("participant name already in use")
)

const (
	reasonSlowConsumer = "slow consumer"
	reasonShutdown     = "shutdown"
)

const (
	DefaultSendBuffer   = 256
	DefaultJoinRetries  = 3
	DefaultRetryBackoff = 100 * time.Millisecond
	DefaultStoreTimeout = 2 * time.Second
)

// Options tunes a Hub. Zero values fall back to the defaults above.
type Options struct {
	// SendBuffer is the number of undelivered events a session may hold
	// before it is evicted as a slow consumer.
	SendBuffer int
	// JoinRetries bounds the append attempts for presence events.
	JoinRetries  int
	RetryBackoff time.Duration
	// StoreTimeout bounds every store call made under the hub lock. A call
	// that runs out of time counts as a storage failure.
	StoreTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
	if o.JoinRetries <= 0 {
		o.JoinRetries = DefaultJoinRetries
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = DefaultStoreTimeout
	}
	return o
}

// PresenceHandler is called with every Connected and Disconnected event and
// the number of joined sessions afterwards. It runs under the hub lock and
// must not call back into the Hub.
type PresenceHandler func(e event.Event, joined int)

// Hub owns the history log and every live session. All appends and
// deliveries happen under one lock, so every session observes the same
// order as the log.
type Hub struct {
	mu         sync.Mutex
	store      history.Store
	sessions   map[string]*Session
	opts       Options
	logger     *zap.Logger
	onPresence PresenceHandler
}

// NewHub creates a hub appending to store.
func NewHub(store history.Store, opts Options, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		store:    store,
		sessions: make(map[string]*Session),
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// SetPresenceHandler sets the callback for join and leave events.
func (h *Hub) SetPresenceHandler(fn PresenceHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onPresence = fn
}

// Join reserves participant and returns a Connecting session. The session
// receives nothing until Open.
func (h *Hub) Join(participant string) (*Session, error) {
	name := strings.TrimSpace(participant)
	if name == "" {
		return nil, ErrParticipantRequired
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrParticipantTaken, name)
	}
	s := newSession(h, name, h.opts.SendBuffer)
	h.sessions[name] = s
	h.logger.Debug("session connecting", zap.String("session_id", s.id), zap.String("participant", name))
	return s, nil
}

// Open moves s to Joined and announces it. The returned snapshot is the log
// as it stood before the session's own Connected. When 0 <= from <=
// len(snapshot), snapshot[from:] is queued ahead of live events so a client
// that fetched history up to from sees neither gap nor duplicate.
//
// If the log cannot be read or the Connected event cannot be stored after
// the configured retries, the session is closed without a Disconnected.
func (h *Hub) Open(ctx context.Context, s *Session, from int) ([]event.Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.State() != StateConnecting {
		return nil, ErrSessionClosed
	}

	snapshot, err := h.snapshot(ctx)
	if err != nil {
		h.closeLocked(s, "history unavailable")
		return nil, fmt.Errorf("join %q: %w", s.participant, err)
	}
	if from >= 0 && from <= len(snapshot) {
		s.setBacklog(snapshot[from:])
	}

	joined := event.Connected(s.participant)
	if _, err := h.appendWithRetry(ctx, joined); err != nil {
		h.closeLocked(s, "join not stored")
		return nil, fmt.Errorf("join %q: %w", s.participant, err)
	}
	s.setState(StateJoined)
	h.deliverLocked(joined, s)
	h.notifyPresenceLocked(joined)

	h.logger.Info("participant joined",
		zap.String("session_id", s.id),
		zap.String("participant", s.participant),
		zap.Int("history", len(snapshot)))
	return snapshot, nil
}

// publish validates, appends and delivers e to every joined session. When
// origin is set it must be joined. It never blocks on a consumer.
func (h *Hub) publish(ctx context.Context, origin *Session, e event.Event) (int64, error) {
	if err := event.Validate(e); err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if origin != nil {
		switch origin.State() {
		case StateJoined:
		case StateConnecting:
			return 0, ErrNotJoined
		default:
			return 0, ErrSessionClosed
		}
	}
	return h.publishLocked(ctx, e)
}

func (h *Hub) publishLocked(ctx context.Context, e event.Event) (int64, error) {
	seq, err := h.append(ctx, e)
	if err != nil {
		h.logger.Error("append failed", zap.String("participant", e.Participant), zap.Error(err))
		return 0, fmt.Errorf("publish: %w", err)
	}
	h.deliverLocked(e, nil)
	return seq, nil
}

// Leave closes s. A session that had joined produces exactly one
// Disconnected event; repeated calls are no-ops.
func (h *Hub) Leave(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeLocked(s, "leave")
}

// Snapshot returns the history log.
func (h *Hub) Snapshot(ctx context.Context) ([]event.Event, error) {
	return h.snapshot(ctx)
}

// Participants returns the sorted names of joined sessions.
func (h *Hub) Participants() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.sessions))
	for name, s := range h.sessions {
		if s.State() == StateJoined {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// SessionCount returns the number of registered sessions, joined or not.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Shutdown closes every session.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	all := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		all = append(all, s)
	}
	for _, s := range all {
		h.closeLocked(s, reasonShutdown)
	}
	h.logger.Info("hub shut down", zap.Int("sessions", len(all)))
}

// deliverLocked hands e to every joined session except skip. Sessions whose
// buffer is full are evicted after the fan-out.
func (h *Hub) deliverLocked(e event.Event, skip *Session) {
	var slow []*Session
	for _, s := range h.sessions {
		if s == skip || s.State() != StateJoined {
			continue
		}
		select {
		case s.send <- e:
		default:
			slow = append(slow, s)
		}
	}
	for _, s := range slow {
		h.logger.Warn("evicting slow consumer",
			zap.String("session_id", s.id),
			zap.String("participant", s.participant),
			zap.Int("buffer", cap(s.send)))
		h.closeLocked(s, reasonSlowConsumer)
	}
}

func (h *Hub) closeLocked(s *Session, reason string) {
	st := s.State()
	if st == StateClosing || st == StateClosed {
		return
	}
	s.setState(StateClosing)
	if h.sessions[s.participant] == s {
		delete(h.sessions, s.participant)
	}

	if st == StateJoined {
		left := event.Disconnected(s.participant)
		if _, err := h.appendWithRetry(context.Background(), left); err != nil {
			h.logger.Error("disconnect not stored", zap.String("participant", s.participant), zap.Error(err))
		}
		h.deliverLocked(left, nil)
		h.notifyPresenceLocked(left)
	}

	s.setState(StateClosed)
	s.markClosed(reason)
	h.logger.Info("session closed",
		zap.String("session_id", s.id),
		zap.String("participant", s.participant),
		zap.String("reason", reason))
}

// appendWithRetry stores a presence event, retrying storage faults with a
// linear backoff. Other errors are returned at once.
func (h *Hub) appendWithRetry(ctx context.Context, e event.Event) (int64, error) {
	var lastErr error
	for attempt := 1; attempt <= h.opts.JoinRetries; attempt++ {
		seq, err := h.append(ctx, e)
		if err == nil {
			return seq, nil
		}
		lastErr = err
		if !errors.Is(err, history.ErrStorageFailure) {
			return 0, err
		}
		h.logger.Warn("append retry",
			zap.String("event", string(e.Kind)),
			zap.String("participant", e.Participant),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt == h.opts.JoinRetries {
			break
		}
		select {
		case <-time.After(h.opts.RetryBackoff * time.Duration(attempt)):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return 0, lastErr
}

// append and snapshot bound one store call by StoreTimeout. Running out of
// time is reported as history.ErrStorageFailure; cancellation of ctx itself
// is returned as is.
func (h *Hub) append(ctx context.Context, e event.Event) (int64, error) {
	callCtx, cancel := context.WithTimeout(ctx, h.opts.StoreTimeout)
	defer cancel()
	seq, err := h.store.Append(callCtx, e)
	return seq, h.storeErr(ctx, callCtx, err)
}

func (h *Hub) snapshot(ctx context.Context) ([]event.Event, error) {
	callCtx, cancel := context.WithTimeout(ctx, h.opts.StoreTimeout)
	defer cancel()
	events, err := h.store.Snapshot(callCtx)
	return events, h.storeErr(ctx, callCtx, err)
}

func (h *Hub) storeErr(ctx, callCtx context.Context, err error) error {
	if err == nil || errors.Is(err, history.ErrStorageFailure) || ctx.Err() != nil {
		return err
	}
	if callCtx.Err() != nil {
		return fmt.Errorf("%w: store call exceeded %s: %v", history.ErrStorageFailure, h.opts.StoreTimeout, err)
	}
	return err
}

func (h *Hub) notifyPresenceLocked(e event.Event) {
	if h.onPresence == nil {
		return
	}
	joined := 0
	for _, s := range h.sessions {
		if s.State() == StateJoined {
			joined++
		}
	}
	h.onPresence(e, joined)
}
