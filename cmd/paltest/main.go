// Command paltest exercises the audio HAL from the command line: it lists
// sound cards and plays or captures WAV files through a non-tunnel stream.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/micro-nova/amplipi-pal/internal/config"
	"github.com/micro-nova/amplipi-pal/internal/metrics"
	"github.com/micro-nova/amplipi-pal/internal/models"
	"github.com/micro-nova/amplipi-pal/internal/rm"
	"github.com/micro-nova/amplipi-pal/internal/session"
	"github.com/micro-nova/amplipi-pal/internal/stream"
)

var (
	cfgPath  string
	backend  string
	cardName string
	device   int
	debug    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "paltest",
		Short: "Audio HAL test tool",
		Long:  `A command-line tool to drive non-tunnel streams against ALSA, WAV or mock sessions.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := "warn"
			if debug {
				level = "debug"
			}
			_, err := config.LoggingConfig{Level: level}.ConfigureLogger()
			return err
		},
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVarP(&backend, "backend", "b", "", "Session backend (alsa, wav, mock)")
	rootCmd.PersistentFlags().StringVar(&cardName, "card", "", "Sound card index or name")
	rootCmd.PersistentFlags().IntVarP(&device, "device", "d", -1, "PCM device (overrides the configured route)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	// Add commands
	rootCmd.AddCommand(cardsCommand())
	rootCmd.AddCommand(playCommand())
	rootCmd.AddCommand(captureCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// hal is an in-process resource manager with one session factory.
type hal struct {
	cfg     *config.Config
	mgr     *rm.Manager
	factory session.Factory
	reg     *prometheus.Registry
	met     *metrics.Metrics
	cancel  context.CancelFunc
}

func newHAL() (*hal, error) {
	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if backend != "" {
		cfg.Backend = backend
	}
	if err := resolveCard(cfg); err != nil {
		return nil, err
	}
	if device >= 0 {
		for name := range cfg.Routes {
			cfg.Routes[name] = config.RouteConfig{Playback: []int{device}, Capture: []int{device}}
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f, err := session.NewFactory(session.OptionsFromConfig(cfg))
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	met := metrics.New(reg)
	mgr := rm.New(rm.Options{SoundCard: cfg.Card.Index, Router: cfg, Metrics: met})
	ctx, cancel := context.WithCancel(context.Background())
	if err := mgr.Start(ctx); err != nil {
		cancel()
		return nil, err
	}
	slog.Debug("paltest: hal ready", "backend", cfg.Backend, "card", cfg.Card.Index)
	return &hal{cfg: cfg, mgr: mgr, factory: f, reg: reg, met: met, cancel: cancel}, nil
}

func (h *hal) Close() {
	h.mgr.Stop()
	h.cancel()
}

func (h *hal) stream(attrs *models.StreamAttributes) (*stream.NonTunnel, error) {
	return stream.NewNonTunnel(attrs, nil, h.mgr, h.factory, stream.WithMetrics(h.met))
}

// dropped returns the buffers and bytes streams reported as transferred
// while the card was unavailable.
func (h *hal) dropped() (buffers, bytes float64) {
	mfs, err := h.reg.Gather()
	if err != nil {
		slog.Debug("paltest: gather metrics", "err", err)
		return 0, 0
	}
	for _, mf := range mfs {
		var sum float64
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
		switch mf.GetName() {
		case "pal_dropped_buffers_total":
			buffers = sum
		case "pal_synthetic_bytes_total":
			bytes = sum
		}
	}
	return buffers, bytes
}

// reportDropped prints the dropped totals, if any.
func (h *hal) reportDropped() {
	if n, b := h.dropped(); n > 0 {
		fmt.Printf("Dropped %.0f buffers (%.0f bytes) while the sound card was offline\n", n, b)
	}
}

// mediaConfig returns the stream format for bits-per-sample bits.
func mediaConfig(rate, channels, bits int) (models.MediaConfig, error) {
	mc := models.MediaConfig{SampleRate: uint32(rate), Channels: uint32(channels), BitWidth: uint32(bits)}
	switch bits {
	case 16:
		mc.Format = models.FormatPCMS16LE
	case 24:
		mc.Format = models.FormatPCMS24_3LE
	case 32:
		mc.Format = models.FormatPCMS32LE
	default:
		return mc, fmt.Errorf("unsupported bit depth %d", bits)
	}
	return mc, models.ValidateMediaConfig(mc)
}
