// Package rm is the resource manager: it owns the stream registry, the
// graph lock, the sound card state and the subsystem restart (SSR)
// fan-out to registered streams.
package rm

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/micro-nova/amplipi-pal/internal/config"
	"github.com/micro-nova/amplipi-pal/internal/events"
	"github.com/micro-nova/amplipi-pal/internal/metrics"
	"github.com/micro-nova/amplipi-pal/internal/models"
)

// Stream is what the manager needs from a registered stream.
type Stream interface {
	ID() string
	// SSRDownHandler tears the stream down when the card goes offline.
	SSRDownHandler() error
	// SSRUpHandler restores the stream when the card is back.
	SSRUpHandler() error
	Info() models.StreamInfo
}

// Router maps a stream type to its PCM devices. *config.Config implements it.
type Router interface {
	Route(t models.StreamType) config.RouteConfig
}

// Options configures a Manager.
type Options struct {
	SoundCard uint
	Router    Router
	Bus       *events.Bus
	Metrics   *metrics.Metrics
	// InitialState defaults to online.
	InitialState *models.CardStatus
}

// ssrRequest is a queued card transition, or a barrier when done is set.
type ssrRequest struct {
	state models.CardStatus
	done  chan struct{}
}

// Manager implements the resource manager.
type Manager struct {
	soundCard uint
	router    Router
	bus       *events.Bus
	metrics   *metrics.Metrics

	card  atomic.Int32
	graph sync.Mutex

	mu      sync.RWMutex
	streams map[string]Stream
	order   []string

	qmu     sync.Mutex
	queue   []ssrRequest
	lastReq models.CardStatus
	wake    chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// New creates a Manager. Call Start to run the SSR worker.
func New(opts Options) *Manager {
	if opts.Router == nil {
		opts.Router = config.Default()
	}
	m := &Manager{
		soundCard: opts.SoundCard,
		router:    opts.Router,
		bus:       opts.Bus,
		metrics:   opts.Metrics,
		streams:   make(map[string]Stream),
		wake:      make(chan struct{}, 1),
	}
	initial := models.CardStatusOnline
	if opts.InitialState != nil {
		initial = *opts.InitialState
	}
	m.card.Store(int32(initial))
	m.lastReq = initial
	return m
}

// CardState returns the current card status.
func (m *Manager) CardState() models.CardStatus {
	return models.CardStatus(m.card.Load())
}

// SoundCard returns the ALSA card index streams open.
func (m *Manager) SoundCard() uint {
	return m.soundCard
}

// PcmDeviceIDs returns the routed devices of t for dir.
func (m *Manager) PcmDeviceIDs(t models.StreamType, dir models.Direction) []int {
	route := m.router.Route(t)
	if dir == models.DirectionInput {
		return route.Capture
	}
	return route.Playback
}

// RegisterStream adds s to the registry.
func (m *Manager) RegisterStream(s Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := s.ID()
	if _, ok := m.streams[id]; ok {
		return models.ErrInvalidArgument("stream already registered: " + id)
	}
	m.streams[id] = s
	m.order = append(m.order, id)
	slog.Debug("rm: stream registered", "id", id, "count", len(m.streams))
	return nil
}

// DeregisterStream removes s from the registry.
func (m *Manager) DeregisterStream(s Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := s.ID()
	if _, ok := m.streams[id]; !ok {
		return models.ErrInvalidArgument("stream not registered: " + id)
	}
	delete(m.streams, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	slog.Debug("rm: stream deregistered", "id", id, "count", len(m.streams))
	return nil
}

// Stream returns the registered stream with id.
func (m *Manager) Stream(id string) (Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[id]
	return s, ok
}

// registered returns the streams in registration order.
func (m *Manager) registered() []Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Stream, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.streams[id])
	}
	return out
}

// Streams returns a snapshot of every registered stream.
func (m *Manager) Streams() []models.StreamInfo {
	list := m.registered()
	out := make([]models.StreamInfo, 0, len(list))
	for _, s := range list {
		out = append(out, s.Info())
	}
	return out
}

// LockGraph serializes session open/close/prepare/start across streams.
func (m *Manager) LockGraph() { m.graph.Lock() }

// UnlockGraph releases the graph lock.
func (m *Manager) UnlockGraph() { m.graph.Unlock() }

// SSRHandler records a card transition and queues the stream fan-out.
// It never blocks and may be called with a stream lock held. A repeat of
// the last requested state is ignored.
func (m *Manager) SSRHandler(state models.CardStatus) error {
	if state != models.CardStatusOffline && state != models.CardStatusOnline {
		return models.ErrInvalidArgument("card state must be offline or online")
	}

	m.qmu.Lock()
	if state == m.lastReq {
		m.qmu.Unlock()
		return nil
	}
	m.lastReq = state
	if state == models.CardStatusOffline {
		m.card.Store(int32(models.CardStatusOffline))
	}
	m.queue = append(m.queue, ssrRequest{state: state})
	m.qmu.Unlock()

	slog.Info("rm: card state change requested", "state", state.String())
	m.signal()
	return nil
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Start runs the SSR worker until ctx is done or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	if m.running {
		return nil
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.running = true
	go m.worker(ctx, m.stopCh, m.doneCh)
	return nil
}

// Stop stops the SSR worker and waits for it to exit. Queued transitions
// that have not run are dropped.
func (m *Manager) Stop() error {
	m.qmu.Lock()
	if !m.running {
		m.qmu.Unlock()
		return nil
	}
	stopCh, doneCh := m.stopCh, m.doneCh
	m.running = false
	m.qmu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
	case <-time.After(10 * time.Second):
		slog.Warn("rm: ssr worker stop timed out")
	}
	return nil
}

// Sync waits until every transition queued before the call has been
// handled.
func (m *Manager) Sync(ctx context.Context) error {
	done := make(chan struct{})
	m.qmu.Lock()
	m.queue = append(m.queue, ssrRequest{done: done})
	m.qmu.Unlock()
	m.signal()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) worker(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer func() {
		m.qmu.Lock()
		if m.doneCh == doneCh {
			m.running = false
		}
		m.qmu.Unlock()
		close(doneCh)
	}()
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-m.wake:
		}

		for {
			m.qmu.Lock()
			if len(m.queue) == 0 {
				m.qmu.Unlock()
				break
			}
			req := m.queue[0]
			m.queue = m.queue[1:]
			m.qmu.Unlock()

			if req.done != nil {
				close(req.done)
				continue
			}
			m.apply(req.state)
		}
	}
}

// apply runs the stream handlers for one transition.
func (m *Manager) apply(state models.CardStatus) {
	streams := m.registered()
	start := time.Now()

	if state == models.CardStatusOffline {
		m.card.Store(int32(models.CardStatusOffline))
		for _, s := range streams {
			if err := s.SSRDownHandler(); err != nil {
				slog.Warn("rm: ssr down handler failed", "stream", s.ID(), "error", err)
			}
		}
	} else {
		m.card.Store(int32(models.CardStatusRecovering))
		m.metrics.CardTransition(models.CardStatusRecovering.String())
		m.publish(models.CardStatusRecovering)
		for _, s := range streams {
			if err := s.SSRUpHandler(); err != nil {
				slog.Warn("rm: ssr up handler failed", "stream", s.ID(), "error", err)
			}
		}
		// A newer offline request wins over the replay that just ran; its
		// own transition is queued and publishes offline.
		if !m.card.CompareAndSwap(int32(models.CardStatusRecovering), int32(models.CardStatusOnline)) {
			slog.Info("rm: card lost during recovery",
				"streams", len(streams), "elapsed", time.Since(start))
			return
		}
	}

	m.metrics.CardTransition(state.String())
	m.publish(state)
	slog.Info("rm: card state applied",
		"state", state.String(), "streams", len(streams), "elapsed", time.Since(start))
}

func (m *Manager) publish(state models.CardStatus) {
	if m.bus != nil {
		m.bus.Publish(models.NewCardEvent(state))
	}
}
