package api

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/micro-nova/amplipi-pal/internal/metrics"
	"github.com/micro-nova/amplipi-pal/internal/models"
	"github.com/micro-nova/amplipi-pal/internal/session"
	"github.com/micro-nova/amplipi-pal/internal/stream"
)

// StreamHost creates and owns the streams driven through the API. Streams
// it creates register with the resource manager like any other client's.
type StreamHost struct {
	rm      stream.ResourceManager
	factory session.Factory
	metrics *metrics.Metrics

	mu      sync.Mutex
	streams map[string]*stream.NonTunnel
}

// NewStreamHost returns a host building sessions with f. m may be nil.
func NewStreamHost(r stream.ResourceManager, f session.Factory, m *metrics.Metrics) *StreamHost {
	return &StreamHost{
		rm:      r,
		factory: f,
		metrics: m,
		streams: make(map[string]*stream.NonTunnel),
	}
}

// Create builds a stream for attrs.
func (h *StreamHost) Create(attrs *models.StreamAttributes) (*stream.NonTunnel, error) {
	s, err := stream.NewNonTunnel(attrs, nil, h.rm, h.factory, stream.WithMetrics(h.metrics))
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.streams[s.ID()] = s
	h.mu.Unlock()
	return s, nil
}

// Get returns the hosted stream id.
func (h *StreamHost) Get(id string) (*stream.NonTunnel, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.streams[id]
	return s, ok
}

// Remove closes the hosted stream id and forgets it. The stream is
// forgotten even when Close reports an error.
func (h *StreamHost) Remove(id string) error {
	h.mu.Lock()
	s, ok := h.streams[id]
	delete(h.streams, id)
	h.mu.Unlock()
	if !ok {
		return models.ErrNotFound("stream not found: " + id)
	}
	return s.Close()
}

// Len returns the number of hosted streams.
func (h *StreamHost) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

// CloseAll closes every hosted stream.
func (h *StreamHost) CloseAll() error {
	h.mu.Lock()
	streams := h.streams
	h.streams = make(map[string]*stream.NonTunnel)
	h.mu.Unlock()

	var errs []error
	for id, s := range streams {
		if err := s.Close(); err != nil {
			slog.Warn("api: stream close failed", "stream", id, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
