package session

import (
	"fmt"
	"log/slog"

	"github.com/micro-nova/amplipi-pal/internal/config"
	"github.com/micro-nova/amplipi-pal/internal/models"
)

// Backend names.
const (
	BackendALSA = "alsa"
	BackendWAV  = "wav"
	BackendMock = "mock"
)

// Options configures NewFactory.
type Options struct {
	Backend string
	Alsa    AlsaConfig
	WAV     WAVConfig
}

// OptionsFromConfig builds factory options from the daemon configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Backend: cfg.Backend,
		Alsa: AlsaConfig{
			ModuleConfigControl: cfg.VoiceUI.ModuleConfigControl,
			EventTimeout:        cfg.VoiceUI.EventTimeout,
		},
		WAV: WAVConfig{
			OutputDir:   cfg.WAV.OutputDir,
			CaptureFile: cfg.WAV.CaptureFile,
		},
	}
}

// NewFactory returns the factory for opts.Backend. The mock backend
// returns a *MockFactory so callers can inspect the sessions it builds.
func NewFactory(opts Options) (Factory, error) {
	switch opts.Backend {
	case BackendALSA, "":
		return FactoryFunc(func(rm ResourceManager, attrs *models.StreamAttributes) (Session, error) {
			if attrs == nil {
				return nil, fmt.Errorf("%w: nil attributes", ErrSessionCreate)
			}
			if len(routedDevices(rm, attrs)) == 0 {
				return nil, fmt.Errorf("%w: no pcm device routed for %s", ErrSessionCreate, attrs.Type)
			}
			slog.Debug("session: creating alsa session", "type", attrs.Type, "direction", attrs.Direction.String())
			return NewAlsaPcm(rm, attrs, opts.Alsa), nil
		}), nil
	case BackendWAV:
		return FactoryFunc(func(rm ResourceManager, attrs *models.StreamAttributes) (Session, error) {
			if attrs == nil {
				return nil, fmt.Errorf("%w: nil attributes", ErrSessionCreate)
			}
			return NewWAV(rm, attrs, opts.WAV), nil
		}), nil
	case BackendMock:
		return NewMockFactory(), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", opts.Backend)
	}
}

func routedDevices(rm ResourceManager, attrs *models.StreamAttributes) []int {
	var devs []int
	if wantsOutput(attrs) {
		devs = append(devs, rm.PcmDeviceIDs(attrs.Type, models.DirectionOutput)...)
	}
	if wantsInput(attrs) {
		devs = append(devs, rm.PcmDeviceIDs(attrs.Type, models.DirectionInput)...)
	}
	return devs
}
