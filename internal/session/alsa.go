package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/alsa"
	"golang.org/x/sys/unix"

	"github.com/micro-nova/amplipi-pal/internal/models"
)

// AlsaConfig holds the knobs of the hardware-backed session.
type AlsaConfig struct {
	// ModuleConfigControl is the mixer control that receives
	// ParamModuleConfig payloads.
	ModuleConfigControl string
	// EventTimeout bounds each wait of the event goroutine, in ms.
	EventTimeout int
}

// AlsaPcm drives PCM devices through the kernel sound interface. One PCM
// is opened per direction on the first device of the route.
type AlsaPcm struct {
	mu    sync.Mutex
	rm    ResourceManager
	attrs models.StreamAttributes
	cfg   AlsaConfig

	in, out   *alsa.PCM
	inBufCfg  models.BufferConfig
	outBufCfg models.BufferConfig
	bufDirty  bool
	opened    bool
	started   bool

	framesIn  uint64
	framesOut uint64

	mixer  *alsa.Mixer
	cb     EventCallback
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewAlsaPcm returns an unopened hardware session for attrs.
func NewAlsaPcm(rm ResourceManager, attrs *models.StreamAttributes, cfg AlsaConfig) *AlsaPcm {
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 500
	}
	return &AlsaPcm{
		rm:        rm,
		attrs:     *attrs,
		cfg:       cfg,
		inBufCfg:  models.DefaultInBufConfig(),
		outBufCfg: models.DefaultOutBufConfig(),
	}
}

// pcmFormat maps a sample format to the kernel's format code.
func pcmFormat(f models.AudioFormat) (alsa.PcmFormat, error) {
	switch f {
	case models.FormatPCMS16LE:
		return alsa.SNDRV_PCM_FORMAT_S16_LE, nil
	case models.FormatPCMS24LE:
		return alsa.SNDRV_PCM_FORMAT_S24_LE, nil
	case models.FormatPCMS24_3LE:
		return alsa.SNDRV_PCM_FORMAT_S24_3LE, nil
	case models.FormatPCMS32LE:
		return alsa.SNDRV_PCM_FORMAT_S32_LE, nil
	default:
		return 0, models.ErrInvalidArgument(fmt.Sprintf("unsupported format %d", f))
	}
}

func pcmConfig(mc models.MediaConfig, bc models.BufferConfig) (*alsa.Config, error) {
	format, err := pcmFormat(mc.Format)
	if err != nil {
		return nil, err
	}
	frameSize := mc.FrameSize()
	if frameSize == 0 || mc.SampleRate == 0 {
		return nil, models.ErrInvalidArgument("zero frame size or sample rate")
	}
	period := uint32(bc.Size) / frameSize
	if period == 0 {
		period = 1
	}
	count := uint32(bc.Count)
	if count < 2 {
		count = 2
	}
	return &alsa.Config{
		Channels:    mc.Channels,
		Rate:        mc.SampleRate,
		PeriodSize:  period,
		PeriodCount: count,
		Format:      format,
	}, nil
}

// resetErr re-reports errors that mean the card went away as ENETRESET.
func resetErr(op string, p *alsa.PCM, err error) error {
	if err == nil {
		return nil
	}
	gone := errors.Is(err, unix.ENODEV) || errors.Is(err, unix.EBADFD) ||
		errors.Is(err, unix.ESHUTDOWN) || errors.Is(err, unix.ENETRESET)
	if !gone && p != nil && p.State() == alsa.SNDRV_PCM_STATE_DISCONNECTED {
		gone = true
	}
	if gone {
		return fmt.Errorf("alsa %s: %w (%w)", op, unix.ENETRESET, err)
	}
	return fmt.Errorf("alsa %s: %w", op, err)
}

func (a *AlsaPcm) openPCM(dir models.Direction, flags alsa.PcmFlag, mc models.MediaConfig, bc models.BufferConfig) (*alsa.PCM, error) {
	devs := a.rm.PcmDeviceIDs(a.attrs.Type, dir)
	if len(devs) == 0 {
		return nil, models.ErrInvalidArgument(fmt.Sprintf("no %s device routed for %s", dir, a.attrs.Type))
	}
	cfg, err := pcmConfig(mc, bc)
	if err != nil {
		return nil, err
	}
	p, err := alsa.PcmOpen(a.rm.SoundCard(), uint(devs[0]), flags|alsa.PCM_MONOTONIC, cfg)
	if err != nil {
		return nil, resetErr("open", nil, err)
	}
	slog.Debug("session: pcm opened",
		"card", a.rm.SoundCard(), "device", devs[0], "direction", dir.String(),
		"rate", cfg.Rate, "channels", cfg.Channels, "period", cfg.PeriodSize)
	return p, nil
}

func (a *AlsaPcm) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.opened {
		return models.ErrInvalidState("session already open")
	}
	if a.rm.CardState() == models.CardStatusOffline {
		return fmt.Errorf("alsa open: %w", unix.ENETRESET)
	}

	if wantsOutput(&a.attrs) {
		p, err := a.openPCM(models.DirectionOutput, alsa.PCM_OUT, a.attrs.OutMediaConfig, a.outBufCfg)
		if err != nil {
			return err
		}
		a.out = p
	}
	if wantsInput(&a.attrs) {
		p, err := a.openPCM(models.DirectionInput, alsa.PCM_IN, a.attrs.InMediaConfig, a.inBufCfg)
		if err != nil {
			a.closePCMsLocked()
			return err
		}
		a.in = p
	}

	if a.attrs.Type == models.StreamTypeVoiceUI {
		if err := a.startEventsLocked(); err != nil {
			a.closePCMsLocked()
			return err
		}
	}

	a.framesIn, a.framesOut = 0, 0
	a.opened = true
	return nil
}

// startEventsLocked opens the card mixer and runs the event goroutine.
func (a *AlsaPcm) startEventsLocked() error {
	m, err := alsa.MixerOpen(a.rm.SoundCard())
	if err != nil {
		return resetErr("mixer open", nil, err)
	}
	if err := m.SubscribeEvents(true); err != nil {
		m.Close()
		return fmt.Errorf("alsa subscribe events: %w", err)
	}
	a.mixer = m
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	go a.eventLoop(m, a.stopCh, a.doneCh)
	return nil
}

func (a *AlsaPcm) eventLoop(m *alsa.Mixer, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		ready, err := m.WaitEvent(a.cfg.EventTimeout)
		if err != nil {
			slog.Warn("session: mixer wait failed", "error", err)
			select {
			case <-stopCh:
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		if !ready {
			continue
		}
		ev, err := m.ReadEvent()
		if err != nil || ev == nil {
			continue
		}
		a.handleMixerEvent(m, ev)
	}
}

// handleMixerEvent forwards value changes with the control's payload.
func (a *AlsaPcm) handleMixerEvent(m *alsa.Mixer, ev *alsa.MixerEvent) {
	if ev.Type&alsa.SNDRV_CTL_EVENT_MASK_VALUE == 0 {
		return
	}
	var payload []byte
	if ctl, err := m.Ctl(ev.ControlID); err == nil {
		if err := ctl.Array(&payload); err != nil {
			payload = nil
		}
	}

	a.mu.Lock()
	cb := a.cb
	a.mu.Unlock()
	if cb != nil {
		cb(ev.ControlID, payload)
	}
}

func (a *AlsaPcm) stopEventsLocked() {
	if a.stopCh == nil {
		return
	}
	close(a.stopCh)
	doneCh := a.doneCh
	a.stopCh, a.doneCh = nil, nil

	// The loop takes a.mu to read the callback.
	a.mu.Unlock()
	<-doneCh
	a.mu.Lock()

	a.mixer.SubscribeEvents(false)
	a.mixer.Close()
	a.mixer = nil
}

func (a *AlsaPcm) closePCMsLocked() error {
	var errs []error
	if a.out != nil {
		errs = append(errs, a.out.Close())
		a.out = nil
	}
	if a.in != nil {
		errs = append(errs, a.in.Close())
		a.in = nil
	}
	return errors.Join(errs...)
}

func (a *AlsaPcm) Prepare() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.opened {
		return models.ErrInvalidState("session not open")
	}
	if a.bufDirty {
		if err := a.applyBufferConfigLocked(); err != nil {
			return err
		}
	}
	if a.out != nil {
		if err := a.out.Prepare(); err != nil {
			return resetErr("prepare", a.out, err)
		}
	}
	if a.in != nil {
		if err := a.in.Prepare(); err != nil {
			return resetErr("prepare", a.in, err)
		}
	}
	return nil
}

func (a *AlsaPcm) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.opened {
		return models.ErrInvalidState("session not open")
	}
	if a.started {
		return models.ErrInvalidState("session already started")
	}
	// Playback starts on the first write once the start threshold is met.
	if a.in != nil {
		if err := a.in.Start(); err != nil {
			return resetErr("start", a.in, err)
		}
	}
	a.started = true
	return nil
}

func (a *AlsaPcm) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}
	a.started = false
	var errs []error
	if a.out != nil {
		if err := a.out.Stop(); err != nil {
			errs = append(errs, resetErr("stop", a.out, err))
		}
	}
	if a.in != nil {
		if err := a.in.Stop(); err != nil {
			errs = append(errs, resetErr("stop", a.in, err))
		}
	}
	return errors.Join(errs...)
}

func (a *AlsaPcm) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.opened {
		return nil
	}
	a.stopEventsLocked()
	a.started = false
	a.opened = false
	a.bufDirty = false
	if err := a.closePCMsLocked(); err != nil {
		return fmt.Errorf("alsa close: %w", err)
	}
	return nil
}

func (a *AlsaPcm) Read(tag int, buf *models.Buffer) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.in == nil {
		return 0, models.ErrInvalidState("no capture pcm")
	}
	frames, err := a.in.Read(buf.Data)
	if err != nil {
		return 0, resetErr("read", a.in, err)
	}
	a.framesIn += uint64(frames)
	return frames * int(a.in.FrameSize()), nil
}

func (a *AlsaPcm) Write(tag int, buf *models.Buffer, flags int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.out == nil {
		return 0, models.ErrInvalidState("no playback pcm")
	}
	frames, err := a.out.Write(buf.Data)
	if err != nil {
		return 0, resetErr("write", a.out, err)
	}
	a.framesOut += uint64(frames)
	return frames * int(a.out.FrameSize()), nil
}

func (a *AlsaPcm) SetParameters(tagID int, id models.ParamID, payload []byte) error {
	if id != models.ParamModuleConfig {
		return models.ErrInvalidArgument(fmt.Sprintf("unsupported parameter %d", id))
	}
	m, err := alsa.MixerOpen(a.rm.SoundCard())
	if err != nil {
		return resetErr("mixer open", nil, err)
	}
	defer m.Close()

	ctl, err := m.CtlByName(a.cfg.ModuleConfigControl)
	if err != nil {
		return fmt.Errorf("alsa control %q: %w", a.cfg.ModuleConfigControl, err)
	}
	if err := ctl.SetArray(payload); err != nil {
		return resetErr("set module config", nil, err)
	}
	return nil
}

func (a *AlsaPcm) GetParameters(tagID int, id models.ParamID) ([]byte, error) {
	if id != models.ParamModuleConfig {
		return nil, models.ErrInvalidArgument(fmt.Sprintf("unsupported parameter %d", id))
	}
	m, err := alsa.MixerOpen(a.rm.SoundCard())
	if err != nil {
		return nil, resetErr("mixer open", nil, err)
	}
	defer m.Close()

	ctl, err := m.CtlByName(a.cfg.ModuleConfigControl)
	if err != nil {
		return nil, fmt.Errorf("alsa control %q: %w", a.cfg.ModuleConfigControl, err)
	}
	var data []byte
	if err := ctl.Array(&data); err != nil {
		return nil, resetErr("get module config", nil, err)
	}
	return data, nil
}

// GetTagsWithModuleInfo reports the routed device ids, one byte each,
// playback first.
func (a *AlsaPcm) GetTagsWithModuleInfo() ([]byte, error) {
	var out []byte
	for _, d := range a.rm.PcmDeviceIDs(a.attrs.Type, models.DirectionOutput) {
		out = append(out, byte(d))
	}
	for _, d := range a.rm.PcmDeviceIDs(a.attrs.Type, models.DirectionInput) {
		out = append(out, byte(d))
	}
	return out, nil
}

func (a *AlsaPcm) RegisterCallBack(cb EventCallback) error {
	a.mu.Lock()
	a.cb = cb
	a.mu.Unlock()
	return nil
}

func (a *AlsaPcm) Drain(t models.DrainType) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.out == nil || !a.started {
		return nil
	}
	return resetErr("drain", a.out, a.out.Drain())
}

func (a *AlsaPcm) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.out == nil || !a.started {
		return nil
	}
	if err := a.out.Stop(); err != nil {
		return resetErr("flush", a.out, err)
	}
	return resetErr("flush", a.out, a.out.Prepare())
}

// GetTimestamp derives the session time from the frames transferred.
func (a *AlsaPcm) GetTimestamp() (models.SessionTime, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var frames uint64
	var rate uint32
	switch {
	case a.out != nil:
		frames, rate = a.framesOut, a.out.Rate()
	case a.in != nil:
		frames, rate = a.framesIn, a.in.Rate()
	default:
		return models.SessionTime{}, models.ErrInvalidState("session not open")
	}
	if rate == 0 {
		return models.SessionTime{}, models.ErrInvalidState("zero sample rate")
	}
	return models.SessionTime{
		SessionTime:  frames * 1000000 / uint64(rate),
		AbsoluteTime: uint64(time.Now().UnixMicro()),
	}, nil
}

func (a *AlsaPcm) SetBufferConfig(in, out models.BufferConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return models.ErrInvalidState("buffer config cannot change while started")
	}
	a.inBufCfg, a.outBufCfg = in, out
	// An open PCM picks the new periods up on the next Prepare.
	a.bufDirty = a.opened
	return nil
}

func (a *AlsaPcm) applyBufferConfigLocked() error {
	if a.out != nil {
		cfg, err := pcmConfig(a.attrs.OutMediaConfig, a.outBufCfg)
		if err != nil {
			return err
		}
		if err := a.out.SetConfig(cfg); err != nil {
			return resetErr("set config", a.out, err)
		}
	}
	if a.in != nil {
		cfg, err := pcmConfig(a.attrs.InMediaConfig, a.inBufCfg)
		if err != nil {
			return err
		}
		if err := a.in.SetConfig(cfg); err != nil {
			return resetErr("set config", a.in, err)
		}
	}
	a.bufDirty = false
	return nil
}
