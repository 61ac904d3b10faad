package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/micro-nova/amplipi-pal/internal/models"
)

// WAVConfig configures the file-backed session.
type WAVConfig struct {
	// OutputDir receives one file per playback session.
	OutputDir string
	// CaptureFile is looped for capture. Empty means silence.
	CaptureFile string
}

// WAV is a session backed by WAV files. The first playback open encodes
// to <OutputDir>/<id>-out.wav and every reopen, such as the one after a
// subsystem restart, to <OutputDir>/<id>-out-<n>.wav, so earlier audio is
// kept. Capture loops over CaptureFile.
type WAV struct {
	mu     sync.Mutex
	id     string
	rm     ResourceManager
	attrs  models.StreamAttributes
	cfg    WAVConfig
	logger *slog.Logger

	outFile *os.File
	outPath string
	outputs int
	encoder *wav.Encoder
	capture []byte
	readPos int

	opened  bool
	started bool
	written uint64
	read    uint64
	param   []byte
	cb      EventCallback
}

// NewWAV returns an unopened WAV session.
func NewWAV(rm ResourceManager, attrs *models.StreamAttributes, cfg WAVConfig) *WAV {
	id := uuid.New().String()
	return &WAV{
		id:     id,
		rm:     rm,
		attrs:  *attrs,
		cfg:    cfg,
		logger: slog.Default().With("session", id),
	}
}

// OutputPath returns the file the latest open wrote playback to, or the
// one the first open will use.
func (w *WAV) OutputPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.outPath == "" {
		return w.outputName(0)
	}
	return w.outPath
}

func (w *WAV) outputName(n int) string {
	if n == 0 {
		return filepath.Join(w.cfg.OutputDir, w.id+"-out.wav")
	}
	return filepath.Join(w.cfg.OutputDir, fmt.Sprintf("%s-out-%d.wav", w.id, n))
}

func (w *WAV) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.opened {
		return models.ErrInvalidState("session already open")
	}
	if w.rm.CardState() == models.CardStatusOffline {
		return fmt.Errorf("wav open: %w", models.ErrNetReset("card offline"))
	}

	if wantsOutput(&w.attrs) {
		mc := w.attrs.OutMediaConfig
		if mc.FrameSize() == 0 || mc.SampleRate == 0 {
			return models.ErrInvalidArgument("zero frame size or sample rate")
		}
		path := w.outputName(w.outputs)
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return fmt.Errorf("wav create: %w", err)
		}
		w.outputs++
		w.outPath = path
		w.outFile = f
		w.encoder = wav.NewEncoder(f, int(mc.SampleRate), int(mc.BitWidth), int(mc.Channels), 1)
	}

	if wantsInput(&w.attrs) && w.cfg.CaptureFile != "" {
		data, err := w.loadCapture(w.cfg.CaptureFile)
		if err != nil {
			w.closeFilesLocked()
			return err
		}
		w.capture = data
	}

	w.readPos, w.written, w.read = 0, 0, 0
	w.opened = true
	return nil
}

// loadCapture decodes path and repacks it at the capture bit width.
func (w *WAV) loadCapture(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wav open capture: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("wav open capture: %s is not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wav decode capture: %w", err)
	}

	mc := w.attrs.InMediaConfig
	if uint32(dec.SampleRate) != mc.SampleRate || uint32(dec.NumChans) != mc.Channels {
		w.logger.Warn("session: capture file format differs from stream",
			"file_rate", dec.SampleRate, "file_channels", dec.NumChans,
			"rate", mc.SampleRate, "channels", mc.Channels)
	}
	return IntBufferToBytes(buf, mc.BitWidth)
}

func (w *WAV) closeFilesLocked() error {
	var errs []error
	if w.encoder != nil {
		errs = append(errs, w.encoder.Close())
		w.encoder = nil
	}
	if w.outFile != nil {
		errs = append(errs, w.outFile.Close())
		w.outFile = nil
	}
	w.capture = nil
	return errors.Join(errs...)
}

func (w *WAV) Prepare() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.opened {
		return models.ErrInvalidState("session not open")
	}
	return nil
}

func (w *WAV) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.opened {
		return models.ErrInvalidState("session not open")
	}
	if w.started {
		return models.ErrInvalidState("session already started")
	}
	w.started = true
	return nil
}

func (w *WAV) Stop() error {
	w.mu.Lock()
	w.started = false
	w.mu.Unlock()
	return nil
}

func (w *WAV) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.opened {
		return nil
	}
	w.opened = false
	w.started = false
	if err := w.closeFilesLocked(); err != nil {
		return fmt.Errorf("wav close: %w", err)
	}
	w.logger.Debug("session: wav closed", "written", w.written, "read", w.read)
	return nil
}

func (w *WAV) Read(tag int, buf *models.Buffer) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.opened || !wantsInput(&w.attrs) {
		return 0, models.ErrInvalidState("no capture path")
	}
	if len(w.capture) == 0 {
		clear(buf.Data)
	} else {
		for n := 0; n < len(buf.Data); {
			c := copy(buf.Data[n:], w.capture[w.readPos:])
			n += c
			w.readPos = (w.readPos + c) % len(w.capture)
		}
	}
	w.read += uint64(len(buf.Data))
	return len(buf.Data), nil
}

func (w *WAV) Write(tag int, buf *models.Buffer, flags int) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.opened || w.encoder == nil {
		return 0, models.ErrInvalidState("no playback path")
	}
	ib, err := BytesToIntBuffer(buf.Data, w.attrs.OutMediaConfig)
	if err != nil {
		return 0, err
	}
	if err := w.encoder.Write(ib); err != nil {
		return 0, fmt.Errorf("wav write: %w", err)
	}
	w.written += uint64(len(buf.Data))
	return len(buf.Data), nil
}

func (w *WAV) SetParameters(tagID int, id models.ParamID, payload []byte) error {
	if id != models.ParamModuleConfig {
		return models.ErrInvalidArgument(fmt.Sprintf("unsupported parameter %d", id))
	}
	w.mu.Lock()
	w.param = append([]byte(nil), payload...)
	w.mu.Unlock()
	return nil
}

func (w *WAV) GetParameters(tagID int, id models.ParamID) ([]byte, error) {
	if id != models.ParamModuleConfig {
		return nil, models.ErrInvalidArgument(fmt.Sprintf("unsupported parameter %d", id))
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.param...), nil
}

func (w *WAV) GetTagsWithModuleInfo() ([]byte, error) {
	return nil, nil
}

// RegisterCallBack stores cb. File sessions raise no events.
func (w *WAV) RegisterCallBack(cb EventCallback) error {
	w.mu.Lock()
	w.cb = cb
	w.mu.Unlock()
	return nil
}

func (w *WAV) Drain(t models.DrainType) error { return nil }

func (w *WAV) Flush() error { return nil }

func (w *WAV) GetTimestamp() (models.SessionTime, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	mc, n := w.attrs.OutMediaConfig, w.written
	if !wantsOutput(&w.attrs) {
		mc, n = w.attrs.InMediaConfig, w.read
	}
	return models.SessionTime{
		SessionTime:  uint64(mc.BytesToDuration(int(n)) / time.Microsecond),
		AbsoluteTime: uint64(time.Now().UnixMicro()),
	}, nil
}

func (w *WAV) SetBufferConfig(in, out models.BufferConfig) error {
	return nil
}
