// Package stream implements the client-facing non-tunnel stream: a
// lifecycle state machine that owns one session, degrades the data path
// to synthetic timing while the sound card is offline and replays its
// state after a subsystem restart.
package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/micro-nova/amplipi-pal/internal/metrics"
	"github.com/micro-nova/amplipi-pal/internal/models"
	"github.com/micro-nova/amplipi-pal/internal/rm"
	"github.com/micro-nova/amplipi-pal/internal/session"
)

// ResourceManager is the part of the resource manager a stream uses.
type ResourceManager interface {
	session.ResourceManager
	RegisterStream(s rm.Stream) error
	DeregisterStream(s rm.Stream) error
	LockGraph()
	UnlockGraph()
	// SSRHandler must not block: it is called with the stream lock held.
	SSRHandler(state models.CardStatus) error
}

// Callback receives asynchronous session events together with the cookie
// passed to RegisterCallBack.
type Callback func(s *NonTunnel, eventID uint32, data []byte, cookie uint64)

// Option configures a NonTunnel.
type Option func(*NonTunnel)

// WithMetrics records stream activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *NonTunnel) { s.metrics = m }
}

// NonTunnel is a stream whose samples pass through the host. All methods
// are safe for concurrent use; lifecycle and data-path calls are
// serialized by one mutex.
type NonTunnel struct {
	id      string
	rm      ResourceManager
	metrics *metrics.Metrics
	logger  *slog.Logger
	dropLog *rate.Limiter

	mu          sync.Mutex
	attrs       models.StreamAttributes
	session     session.Session
	state       models.StreamState
	cachedState models.StreamState
	closed      bool

	cbMu   sync.Mutex
	cb     Callback
	cookie uint64

	// Session events are queued here and handed to the client callback
	// by dispatchEvents, never on the session's own goroutine.
	evMu    sync.Mutex
	evCond  *sync.Cond
	evQueue []sessionEvent
	evDone  bool
}

type sessionEvent struct {
	id   uint32
	data []byte
}

// NewNonTunnel creates a stream for attrs and registers it with r.
// Modifiers are accepted but not applied.
//
// It fails with EINVAL for nil attributes, with EIO (after a short
// backoff) when the card is offline, and with an error wrapping
// session.ErrSessionCreate when f cannot build a session.
func NewNonTunnel(attrs *models.StreamAttributes, mods []models.ModifierKV, r ResourceManager, f session.Factory, opts ...Option) (*NonTunnel, error) {
	if attrs == nil {
		return nil, models.ErrInvalidArgument("stream attributes are required")
	}
	if r == nil || f == nil {
		return nil, models.ErrInvalidArgument("resource manager and session factory are required")
	}
	if r.CardState() == models.CardStatusOffline {
		slog.Error("stream: sound card offline, can not create stream")
		time.Sleep(models.SSRRecovery)
		return nil, models.ErrIO("sound card offline")
	}

	id := uuid.New().String()
	s := &NonTunnel{
		id:      id,
		rm:      r,
		logger:  slog.Default().With("stream", id),
		dropLog: rate.NewLimiter(rate.Every(time.Second), 1),
		attrs:   *attrs,
	}
	s.evCond = sync.NewCond(&s.evMu)
	for _, opt := range opts {
		opt(s)
	}
	_ = mods

	if s.attrs.InMediaConfig.Channels > models.MaxChannels {
		s.logger.Warn("stream: in channels clamped", "channels", s.attrs.InMediaConfig.Channels, "max", models.MaxChannels)
		s.attrs.InMediaConfig.Channels = models.MaxChannels
	}
	if s.attrs.OutMediaConfig.Channels > models.MaxChannels {
		s.logger.Warn("stream: out channels clamped", "channels", s.attrs.OutMediaConfig.Channels, "max", models.MaxChannels)
		s.attrs.OutMediaConfig.Channels = models.MaxChannels
	}

	attrsCopy := s.attrs
	sess, err := f.MakeSession(r, &attrsCopy)
	if err == nil && sess == nil {
		err = session.ErrSessionCreate
	}
	if err != nil {
		s.logger.Error("stream: session creation failed", "error", err)
		if !errors.Is(err, session.ErrSessionCreate) {
			err = fmt.Errorf("%w: %w", session.ErrSessionCreate, err)
		}
		return nil, err
	}
	s.session = sess

	go s.dispatchEvents()
	if err := sess.RegisterCallBack(s.handleSessionCallBack); err != nil {
		s.stopEvents()
		return nil, fmt.Errorf("%w: register callback: %w", session.ErrSessionCreate, err)
	}
	if err := r.RegisterStream(s); err != nil {
		s.stopEvents()
		return nil, fmt.Errorf("stream: register: %w", err)
	}

	s.metrics.StreamCreated()
	s.logger.Debug("stream: created",
		"type", s.attrs.Type, "direction", s.attrs.Direction.String())
	return s, nil
}

// ID returns the stream handle.
func (s *NonTunnel) ID() string { return s.id }

// Attributes returns the attributes the stream runs with, after clamping.
func (s *NonTunnel) Attributes() models.StreamAttributes {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attrs
}

// State returns the current lifecycle state.
func (s *NonTunnel) State() models.StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CachedState returns the state pending restore, or StateIdle.
func (s *NonTunnel) CachedState() models.StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cachedState
}

// Info returns a snapshot for the control API.
func (s *NonTunnel) Info() models.StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.StreamInfo{
		ID:          s.id,
		Type:        s.attrs.Type,
		Direction:   s.attrs.Direction.String(),
		State:       s.state.String(),
		CachedState: s.cachedState.String(),
	}
}

// RegisterCallBack installs cb for asynchronous session events. Events are
// delivered in order from a goroutine owned by the stream, so cb may call
// any stream method, Close included.
func (s *NonTunnel) RegisterCallBack(cb Callback, cookie uint64) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errClosed()
	}

	s.cbMu.Lock()
	s.cb, s.cookie = cb, cookie
	s.cbMu.Unlock()
	return nil
}

// handleSessionCallBack runs on the session's goroutine, which the
// session joins on Close. It only queues the event.
func (s *NonTunnel) handleSessionCallBack(eventID uint32, data []byte) {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	if s.evDone {
		s.logger.Debug("stream: event after close dropped", "event", eventID)
		return
	}
	s.evQueue = append(s.evQueue, sessionEvent{id: eventID, data: data})
	s.evCond.Signal()
}

func (s *NonTunnel) dispatchEvents() {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	for {
		for len(s.evQueue) == 0 && !s.evDone {
			s.evCond.Wait()
		}
		if s.evDone {
			s.evQueue = nil
			return
		}
		ev := s.evQueue[0]
		s.evQueue = s.evQueue[1:]

		s.evMu.Unlock()
		s.deliver(ev)
		s.evMu.Lock()
	}
}

func (s *NonTunnel) deliver(ev sessionEvent) {
	s.cbMu.Lock()
	cb, cookie := s.cb, s.cookie
	s.cbMu.Unlock()
	if cb == nil {
		s.logger.Debug("stream: event without callback", "event", ev.id)
		return
	}
	cb(s, ev.id, ev.data, cookie)
}

// stopEvents ends the dispatcher and drops queued events. It does not
// wait: the caller may be the dispatcher itself.
func (s *NonTunnel) stopEvents() {
	s.evMu.Lock()
	s.evDone = true
	s.evQueue = nil
	s.evCond.Broadcast()
	s.evMu.Unlock()
}

func (s *NonTunnel) setStateLocked(st models.StreamState) {
	if s.state == st {
		return
	}
	s.logger.Debug("stream: state change", "from", s.state.String(), "to", st.String())
	s.state = st
	s.metrics.Transition(st.String())
}

func errClosed() error {
	return models.ErrInvalidState("stream closed")
}

// isReset reports whether err means the transport was reset.
func isReset(err error) bool {
	return errors.Is(err, unix.ENETRESET)
}
