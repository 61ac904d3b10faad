package stream

import (
	"errors"
	"fmt"
	"time"

	"github.com/micro-nova/amplipi-pal/internal/models"
)

// Open binds the session. It is a no-op on an opened stream.
func (s *NonTunnel) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}
	return s.openLocked()
}

func (s *NonTunnel) openLocked() error {
	if s.rm.CardState() == models.CardStatusOffline {
		s.logger.Error("stream: sound card offline, can not open stream")
		time.Sleep(models.SSRRecovery)
		return models.ErrIO("sound card offline")
	}

	switch s.state {
	case models.StateIdle:
		s.rm.LockGraph()
		err := s.session.Open()
		s.rm.UnlockGraph()
		if err != nil {
			s.metrics.SessionError("open")
			s.logger.Error("stream: session open failed", "error", err)
			return fmt.Errorf("session open: %w", err)
		}
		s.setStateLocked(models.StateInit)
		return nil
	case models.StateInit:
		s.logger.Info("stream: already open")
		return nil
	default:
		return models.ErrInvalidState(fmt.Sprintf("can not open from %s", s.state))
	}
}

// Start prepares and starts the session.
//
// While the card is offline the start is recorded as the state to restore
// and nil is returned without touching the session. A transport reset
// reported by the session is handed to the resource manager and likewise
// suppressed.
func (s *NonTunnel) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}
	return s.startLocked()
}

func (s *NonTunnel) startLocked() error {
	if s.rm.CardState() == models.CardStatusOffline {
		s.cachedState = models.StateStarted
		s.logger.Error("stream: sound card offline, start deferred", "cached_state", s.cachedState.String())
		return nil
	}

	switch s.state {
	case models.StateInit, models.StateStopped:
	case models.StateStarted:
		s.logger.Info("stream: already started")
		return nil
	default:
		return models.ErrInvalidState(fmt.Sprintf("can not start from %s", s.state))
	}

	s.rm.LockGraph()
	defer s.rm.UnlockGraph()

	if err := s.session.Prepare(); err != nil {
		s.metrics.SessionError("prepare")
		s.logger.Error("stream: session prepare failed", "error", err)
		return fmt.Errorf("session prepare: %w", err)
	}

	err := s.session.Start()
	if err != nil && isReset(err) && s.rm.CardState() != models.CardStatusOffline {
		// TODO: this drops the start error entirely; revisit once clients
		// can act on a deferred start.
		s.logger.Error("stream: transport reset on start, informing resource manager", "error", err)
		s.metrics.TransportReset()
		if serr := s.rm.SSRHandler(models.CardStatusOffline); serr != nil {
			s.logger.Warn("stream: ssr notification failed", "error", serr)
		}
		s.cachedState = models.StateStarted
		return nil
	}
	if err != nil {
		s.metrics.SessionError("start")
		s.logger.Error("stream: session start failed", "error", err)
		return fmt.Errorf("session start: %w", err)
	}

	s.setStateLocked(models.StateStarted)
	return nil
}

// Stop halts the session. Stopping an idle or stopped stream is a no-op.
// The stream is stopped even if the session reports an error.
func (s *NonTunnel) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}
	return s.stopLocked()
}

func (s *NonTunnel) stopLocked() error {
	switch s.state {
	case models.StateStarted, models.StatePaused:
		err := s.session.Stop()
		s.setStateLocked(models.StateStopped)
		if err != nil {
			s.metrics.SessionError("stop")
			s.logger.Error("stream: session stop failed", "error", err)
			return fmt.Errorf("session stop: %w", err)
		}
		return nil
	case models.StateStopped, models.StateIdle:
		s.logger.Info("stream: already stopped", "state", s.state.String())
		return nil
	default:
		return models.ErrInvalidState(fmt.Sprintf("can not stop from %s", s.state))
	}
}

// closeSessionLocked closes the session under the graph lock.
func (s *NonTunnel) closeSessionLocked() error {
	s.rm.LockGraph()
	err := s.session.Close()
	s.rm.UnlockGraph()
	if err != nil {
		s.metrics.SessionError("close")
		s.logger.Error("stream: session close failed", "error", err)
		return fmt.Errorf("session close: %w", err)
	}
	return nil
}

// Close tears the stream down from any state, deregisters it and releases
// the session. Teardown always completes; the errors met on the way are
// joined and returned. Closing a closed stream is a no-op.
func (s *NonTunnel) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.logger.Info("stream: closing", "state", s.state.String())

	var errs []error
	if s.state == models.StateStarted || s.state == models.StatePaused {
		if err := s.stopLocked(); err != nil {
			errs = append(errs, err)
		}
	}
	// An idle stream never opened, or its session was closed by SSR.
	if s.state != models.StateIdle {
		if err := s.closeSessionLocked(); err != nil {
			errs = append(errs, err)
		}
	}
	s.setStateLocked(models.StateIdle)
	s.cachedState = models.StateIdle
	s.closed = true
	s.session = nil
	s.mu.Unlock()

	s.stopEvents()
	if err := s.rm.DeregisterStream(s); err != nil {
		errs = append(errs, fmt.Errorf("deregister: %w", err))
	}
	s.metrics.StreamClosed()
	return errors.Join(errs...)
}

// Pause is not supported on non-tunnel streams.
func (s *NonTunnel) Pause() error {
	s.logger.Error("stream: pause not supported on non-tunnel stream")
	return models.ErrInvalidArgument("pause not supported on non-tunnel stream")
}

// Resume is not supported on non-tunnel streams.
func (s *NonTunnel) Resume() error {
	s.logger.Error("stream: resume not supported on non-tunnel stream")
	return models.ErrInvalidArgument("resume not supported on non-tunnel stream")
}

// Prepare re-applies the buffer configuration to the session.
func (s *NonTunnel) Prepare() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}
	if err := s.session.Prepare(); err != nil {
		s.logger.Error("stream: session prepare failed", "error", err)
		return fmt.Errorf("session prepare: %w", err)
	}
	return nil
}

// Flush discards queued data.
func (s *NonTunnel) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}
	return s.session.Flush()
}

// Drain waits for queued playback data. It does not hold the stream lock
// while the session drains.
func (s *NonTunnel) Drain(t models.DrainType) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed()
	}
	sess := s.session
	s.mu.Unlock()
	return sess.Drain(t)
}

// SetParameters forwards a module configuration payload to the session.
func (s *NonTunnel) SetParameters(id models.ParamID, payload []byte) error {
	if payload == nil {
		return models.ErrInvalidArgument("parameter payload is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}
	switch id {
	case models.ParamModuleConfig:
		return s.session.SetParameters(0, id, payload)
	default:
		s.logger.Error("stream: unsupported parameter", "id", id)
		return models.ErrInvalidArgument(fmt.Sprintf("unsupported parameter %d", id))
	}
}

// GetParameters reads a module configuration payload back from the session.
func (s *NonTunnel) GetParameters(id models.ParamID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed()
	}
	switch id {
	case models.ParamModuleConfig:
		return s.session.GetParameters(0, id)
	default:
		return nil, models.ErrInvalidArgument(fmt.Sprintf("unsupported parameter %d", id))
	}
}

// GetTagsWithModuleInfo returns the session's tag/module description.
func (s *NonTunnel) GetTagsWithModuleInfo() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed()
	}
	return s.session.GetTagsWithModuleInfo()
}

// GetTimestamp returns the session time.
func (s *NonTunnel) GetTimestamp() (models.SessionTime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.SessionTime{}, errClosed()
	}
	return s.session.GetTimestamp()
}

// SetBufInfo sets the buffer geometry. It is only accepted before the
// stream starts.
func (s *NonTunnel) SetBufInfo(in, out models.BufferConfig) error {
	if in.Count <= 0 || in.Size <= 0 || out.Count <= 0 || out.Size <= 0 {
		return models.ErrInvalidArgument("buffer count and size must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}
	if s.state != models.StateIdle && s.state != models.StateInit {
		return models.ErrInvalidState(fmt.Sprintf("can not set buffers in %s", s.state))
	}
	return s.session.SetBufferConfig(in, out)
}
