package stream

import (
	"errors"

	"github.com/micro-nova/amplipi-pal/internal/models"
)

// SSRDownHandler is called by the resource manager when the card goes
// offline. It records the state to restore, unless one is already
// pending, and closes the session while keeping the stream itself.
func (s *NonTunnel) SSRDownHandler() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	if s.cachedState == models.StateIdle {
		s.cachedState = s.state
	}
	s.logger.Debug("stream: ssr down", "state", s.state.String(), "cached_state", s.cachedState.String())

	switch s.state {
	case models.StateInit, models.StateStopped:
		err := s.closeSessionLocked()
		s.setStateLocked(models.StateIdle)
		return err
	case models.StateStarted, models.StatePaused:
		var errs []error
		if err := s.stopLocked(); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, s.closeSessionLocked())
		s.setStateLocked(models.StateIdle)
		return errors.Join(errs...)
	default:
		s.logger.Debug("stream: nothing to tear down", "state", s.state.String())
		return nil
	}
}

// SSRUpHandler is called by the resource manager once the card is back.
// It replays the pending state and always clears it.
func (s *NonTunnel) SSRUpHandler() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	cached := s.cachedState
	defer func() { s.cachedState = models.StateIdle }()
	s.logger.Debug("stream: ssr up", "cached_state", cached.String())

	switch cached {
	case models.StateInit:
		return s.openLocked()
	case models.StateStarted:
		if err := s.openLocked(); err != nil {
			return err
		}
		return s.startLocked()
	case models.StateStopped:
		if err := s.openLocked(); err != nil {
			return err
		}
		s.setStateLocked(models.StateStopped)
		return nil
	case models.StatePaused:
		if err := s.openLocked(); err != nil {
			return err
		}
		if err := s.startLocked(); err != nil {
			return err
		}
		return s.Pause()
	default:
		s.logger.Debug("stream: nothing to restore", "cached_state", cached.String())
		return nil
	}
}
