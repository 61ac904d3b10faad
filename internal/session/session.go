// Package session implements the data path between a stream and the sound
// hardware. A Session is owned by exactly one stream; the stream enforces
// the lifecycle order, the session owns the device resources.
package session

import (
	"errors"

	"github.com/micro-nova/amplipi-pal/internal/models"
)

// ErrSessionCreate is returned by factories when a session cannot be built.
// It is distinct from the runtime errors a built session reports.
var ErrSessionCreate = errors.New("session creation failed")

// EventCallback receives asynchronous events. It is always invoked from
// the session's own goroutine, never from a caller of a Session method.
type EventCallback func(eventID uint32, data []byte)

// Session is a live binding between a stream and a hardware data path.
//
// Implementations report a lost transport (subsystem restart, unplugged
// card) with errors wrapping unix.ENETRESET and everything else with
// ordinary errors, so callers can tell "hardware gone" from "bad request".
type Session interface {
	// Open allocates device resources. Callers pair it with Close.
	Open() error
	// Prepare applies buffer sizes and readies the path. It may be
	// called again after a failed Start.
	Prepare() error
	Start() error
	// Stop halts transfer. Stopping a session that never started is a no-op.
	Stop() error
	// Close releases everything Open allocated and joins the event goroutine.
	Close() error

	// Read fills buf and returns the number of bytes read.
	Read(tag int, buf *models.Buffer) (int, error)
	// Write sends buf and returns the number of bytes written.
	Write(tag int, buf *models.Buffer, flags int) (int, error)

	SetParameters(tagID int, id models.ParamID, payload []byte) error
	GetParameters(tagID int, id models.ParamID) ([]byte, error)
	GetTagsWithModuleInfo() ([]byte, error)

	// RegisterCallBack installs cb for asynchronous events.
	RegisterCallBack(cb EventCallback) error

	Drain(t models.DrainType) error
	Flush() error
	GetTimestamp() (models.SessionTime, error)

	// SetBufferConfig records the buffer geometry used by the next Prepare.
	SetBufferConfig(in, out models.BufferConfig) error
}

// ResourceManager is the part of the resource manager a session uses.
type ResourceManager interface {
	CardState() models.CardStatus
	SoundCard() uint
	PcmDeviceIDs(t models.StreamType, dir models.Direction) []int
}

// Factory builds the session realization for a set of stream attributes.
type Factory interface {
	MakeSession(rm ResourceManager, attrs *models.StreamAttributes) (Session, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(rm ResourceManager, attrs *models.StreamAttributes) (Session, error)

func (f FactoryFunc) MakeSession(rm ResourceManager, attrs *models.StreamAttributes) (Session, error) {
	return f(rm, attrs)
}

// wantsInput reports whether attrs include a capture path.
func wantsInput(attrs *models.StreamAttributes) bool {
	return attrs.Direction == models.DirectionInput || attrs.Direction == models.DirectionInputOutput
}

// wantsOutput reports whether attrs include a playback path.
func wantsOutput(attrs *models.StreamAttributes) bool {
	return attrs.Direction == models.DirectionOutput || attrs.Direction == models.DirectionInputOutput
}
