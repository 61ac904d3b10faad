// Package models holds the data types shared by streams, sessions and the
// resource manager.
package models

import (
	"fmt"
	"strings"
	"time"
)

// StreamState is the lifecycle state of a stream.
type StreamState int

const (
	StateIdle StreamState = iota
	StateInit
	StateStarted
	StatePaused
	StateStopped
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInit:
		return "init"
	case StateStarted:
		return "started"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CardStatus is the global sound card availability.
type CardStatus int32

const (
	CardStatusOffline CardStatus = iota
	CardStatusOnline
	// CardStatusRecovering is reported while streams are being restored
	// after the card came back. Streams treat it as online.
	CardStatusRecovering
)

func (c CardStatus) String() string {
	switch c {
	case CardStatusOffline:
		return "offline"
	case CardStatusOnline:
		return "online"
	case CardStatusRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// ParseCardStatus parses the contents of a sound card state node
// ("ONLINE" / "OFFLINE").
func ParseCardStatus(s string) (CardStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ONLINE":
		return CardStatusOnline, nil
	case "OFFLINE":
		return CardStatusOffline, nil
	default:
		return CardStatusOffline, fmt.Errorf("unknown card state %q", strings.TrimSpace(s))
	}
}

// CardEvent is published on the event bus whenever the card state changes.
type CardEvent struct {
	State CardStatus `json:"-"`
	Name  string     `json:"state"`
	Time  time.Time  `json:"time"`
}

// NewCardEvent returns an event for state stamped with the current time.
func NewCardEvent(state CardStatus) CardEvent {
	return CardEvent{State: state, Name: state.String(), Time: time.Now()}
}

// Direction is the data direction of a stream.
type Direction int

const (
	DirectionOutput Direction = iota
	DirectionInput
	DirectionInputOutput
)

func (d Direction) String() string {
	switch d {
	case DirectionOutput:
		return "output"
	case DirectionInput:
		return "input"
	case DirectionInputOutput:
		return "input_output"
	default:
		return "unknown"
	}
}

// StreamType selects the use case of a stream and, through the session
// factory, the session realization.
type StreamType string

const (
	StreamTypeNonTunnel  StreamType = "non_tunnel"
	StreamTypeLowLatency StreamType = "low_latency"
	StreamTypeDeepBuffer StreamType = "deep_buffer"
	StreamTypeVoiceUI    StreamType = "voice_ui"
)

// AudioFormat identifies the sample encoding.
type AudioFormat int

const (
	FormatPCMS16LE AudioFormat = iota
	FormatPCMS24LE
	FormatPCMS24_3LE
	FormatPCMS32LE
)

// MediaConfig describes one direction of a stream.
type MediaConfig struct {
	SampleRate uint32      `json:"sample_rate" yaml:"sample_rate"`
	BitWidth   uint32      `json:"bit_width" yaml:"bit_width"`
	Channels   uint32      `json:"channels" yaml:"channels"`
	Format     AudioFormat `json:"format" yaml:"format"`
}

// FrameSize returns the number of bytes per frame.
func (m MediaConfig) FrameSize() uint32 {
	return m.BitWidth / 8 * m.Channels
}

// BytesToDuration returns how long n bytes take to play at this
// configuration. It returns 0 when the frame size or rate is zero.
func (m MediaConfig) BytesToDuration(n int) time.Duration {
	frameSize := m.FrameSize()
	if frameSize == 0 || m.SampleRate == 0 || n <= 0 {
		return 0
	}
	us := uint64(n) * 1000000 / uint64(frameSize) / uint64(m.SampleRate)
	return time.Duration(us) * time.Microsecond
}

// StreamAttributes are the client supplied parameters of a stream.
type StreamAttributes struct {
	Type           StreamType  `json:"type"`
	Direction      Direction   `json:"direction"`
	Flags          uint32      `json:"flags"`
	InMediaConfig  MediaConfig `json:"in_media_config"`
	OutMediaConfig MediaConfig `json:"out_media_config"`
}

// Buffer is one transfer unit exchanged with a stream.
type Buffer struct {
	Data      []byte
	Timestamp time.Duration
	Flags     uint32
}

// Size returns the number of bytes the buffer holds.
func (b *Buffer) Size() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}

// BufferConfig is the buffer count and size of one direction.
type BufferConfig struct {
	Count int `json:"count" yaml:"count"`
	Size  int `json:"size" yaml:"size"`
}

// ParamID identifies an out-of-band parameter.
type ParamID uint32

const (
	ParamModuleConfig ParamID = 0x0001
)

// DrainType selects how much queued data Drain waits for.
type DrainType int

const (
	DrainAll DrainType = iota
	DrainPartial
)

// ModifierKV is a key/value stream modifier.
type ModifierKV struct {
	Key   uint32
	Value uint32
}

// SessionTime is a session timestamp pair in microseconds.
type SessionTime struct {
	SessionTime  uint64 `json:"session_time"`
	AbsoluteTime uint64 `json:"absolute_time"`
}

// StreamInfo is a read-only snapshot of a registered stream.
type StreamInfo struct {
	ID          string     `json:"id"`
	Type        StreamType `json:"type"`
	Direction   string     `json:"direction"`
	State       string     `json:"state"`
	CachedState string     `json:"cached_state"`
}
