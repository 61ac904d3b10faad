package stream

import (
	"fmt"
	"time"

	"github.com/micro-nova/amplipi-pal/internal/models"
)

// Read captures one buffer. While the card is offline, or a state is
// pending restore, the buffer is zero-filled after sleeping for the time
// it would have taken to capture, and its full size is returned.
func (s *NonTunnel) Read(buf *models.Buffer) (int, error) {
	if buf == nil {
		return 0, models.ErrInvalidArgument("buffer is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed()
	}

	mc := s.attrs.InMediaConfig
	if err := s.checkMediaLocked(mc); err != nil {
		return 0, err
	}
	if s.rm.CardState() == models.CardStatusOffline || s.cachedState != models.StateIdle {
		return s.syntheticLocked(buf, mc, models.DirectionInput)
	}
	if err := s.checkStartedLocked(); err != nil {
		return 0, err
	}

	n, err := s.session.Read(0, buf)
	if err != nil {
		return s.dataErrorLocked("read", buf, models.DirectionInput, err)
	}
	return n, nil
}

// Write plays one buffer. While the card is offline, or a state is
// pending restore, the data is dropped after sleeping for the time it
// would have taken to play, and its full size is returned.
func (s *NonTunnel) Write(buf *models.Buffer) (int, error) {
	if buf == nil {
		return 0, models.ErrInvalidArgument("buffer is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed()
	}

	mc := s.attrs.OutMediaConfig
	if err := s.checkMediaLocked(mc); err != nil {
		return 0, err
	}
	if s.rm.CardState() == models.CardStatusOffline || s.cachedState != models.StateIdle {
		return s.syntheticLocked(buf, mc, models.DirectionOutput)
	}
	if err := s.checkStartedLocked(); err != nil {
		return 0, err
	}

	n, err := s.session.Write(0, buf, 0)
	if err != nil {
		return s.dataErrorLocked("write", buf, models.DirectionOutput, err)
	}
	return n, nil
}

// checkMediaLocked rejects a configuration whose transfer time can not
// be computed, whatever the card state.
func (s *NonTunnel) checkMediaLocked(mc models.MediaConfig) error {
	frameSize := mc.FrameSize()
	if frameSize == 0 || mc.SampleRate == 0 {
		s.logger.Error("stream: invalid media config", "frame_size", frameSize, "sample_rate", mc.SampleRate)
		return models.ErrInvalidArgument(fmt.Sprintf("frame size %d, sample rate %d", frameSize, mc.SampleRate))
	}
	return nil
}

func (s *NonTunnel) checkStartedLocked() error {
	switch s.state {
	case models.StateStarted:
		return nil
	case models.StateStopped:
		return models.ErrIO("stream stopped")
	default:
		return models.ErrInvalidState(fmt.Sprintf("stream not started, state %s", s.state))
	}
}

// syntheticLocked emulates a transfer of buf at mc's rate.
func (s *NonTunnel) syntheticLocked(buf *models.Buffer, mc models.MediaConfig, dir models.Direction) (int, error) {
	size := buf.Size()
	if dir == models.DirectionInput {
		clear(buf.Data)
	}
	time.Sleep(mc.BytesToDuration(size))
	s.dropped(dir, size)
	return size, nil
}

// dataErrorLocked turns a session transfer error into the client result.
// A reset, or any failure while the card is offline, drops the buffer.
func (s *NonTunnel) dataErrorLocked(op string, buf *models.Buffer, dir models.Direction, err error) (int, error) {
	switch {
	case isReset(err) && s.rm.CardState() != models.CardStatusOffline:
		s.logger.Error("stream: transport reset, informing resource manager", "op", op, "error", err)
		s.metrics.TransportReset()
		if serr := s.rm.SSRHandler(models.CardStatusOffline); serr != nil {
			s.logger.Warn("stream: ssr notification failed", "error", serr)
		}
	case s.rm.CardState() == models.CardStatusOffline:
	default:
		s.metrics.SessionError(op)
		s.logger.Error("stream: session transfer failed", "op", op, "error", err)
		return 0, fmt.Errorf("session %s: %w", op, err)
	}

	size := buf.Size()
	s.dropped(dir, size)
	return size, nil
}

func (s *NonTunnel) dropped(dir models.Direction, size int) {
	s.metrics.Dropped(dir.String(), size)
	if s.dropLog.Allow() {
		s.logger.Warn("stream: sound card offline, dropped buffer", "direction", dir.String(), "size", size)
	} else {
		s.logger.Debug("stream: dropped buffer", "direction", dir.String(), "size", size)
	}
}
