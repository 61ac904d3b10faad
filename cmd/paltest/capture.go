package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-audio/wav"
	"github.com/spf13/cobra"

	"github.com/micro-nova/amplipi-pal/internal/models"
	"github.com/micro-nova/amplipi-pal/internal/session"
)

func captureCommand() *cobra.Command {
	var (
		streamType  string
		channels    int
		rate        int
		bits        int
		periodSize  int
		periodCount int
		duration    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "capture FILE.wav",
		Short: "Capture from a capture stream into a WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mc, err := mediaConfig(rate, channels, bits)
			if err != nil {
				return err
			}

			h, err := newHAL()
			if err != nil {
				return err
			}
			defer h.Close()

			s, err := h.stream(&models.StreamAttributes{
				Type:          models.StreamType(streamType),
				Direction:     models.DirectionInput,
				InMediaConfig: mc,
			})
			if err != nil {
				return fmt.Errorf("creating stream: %w", err)
			}
			defer s.Close()

			out, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer out.Close()
			encoder := wav.NewEncoder(out, rate, bits, channels, 1)

			bc := models.BufferConfig{Count: periodCount, Size: periodSize * int(mc.FrameSize())}
			if err := s.SetBufInfo(bc, bc); err != nil {
				return fmt.Errorf("setting buffers: %w", err)
			}
			if err := s.Open(); err != nil {
				return fmt.Errorf("opening stream: %w", err)
			}
			if err := s.Start(); err != nil {
				return fmt.Errorf("starting stream: %w", err)
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sig)

			fmt.Printf("Capturing %v to %s: %d channels, %d Hz, %d bit (%s backend)\n",
				duration, args[0], channels, rate, bits, h.cfg.Backend)

			buf := &models.Buffer{Data: make([]byte, bc.Size)}
			want := int(duration.Seconds()*float64(rate)) * int(mc.FrameSize())
			var captured int
		loop:
			for captured < want {
				select {
				case <-sig:
					break loop
				default:
				}
				if rest := want - captured; rest < len(buf.Data) {
					buf.Data = buf.Data[:rest]
				}
				n, err := s.Read(buf)
				if err != nil {
					return fmt.Errorf("read: %w (errno %d)", err, models.Errno(err))
				}
				ib, err := session.BytesToIntBuffer(buf.Data[:n], mc)
				if err != nil {
					return err
				}
				if err := encoder.Write(ib); err != nil {
					return fmt.Errorf("encoding WAV: %w", err)
				}
				captured += n
			}

			if err := s.Stop(); err != nil {
				return fmt.Errorf("stopping stream: %w", err)
			}
			if err := encoder.Close(); err != nil {
				return fmt.Errorf("closing WAV encoder: %w", err)
			}
			fmt.Printf("Captured %d bytes (%v of audio)\n", captured, mc.BytesToDuration(captured))
			h.reportDropped()
			return nil
		},
	}

	cmd.Flags().StringVar(&streamType, "type", string(models.StreamTypeNonTunnel), "Stream type (route)")
	cmd.Flags().IntVar(&channels, "channels", 2, "The number of channels")
	cmd.Flags().IntVar(&rate, "rate", 48000, "The sample rate in Hz")
	cmd.Flags().IntVar(&bits, "bits", 16, "Bits per sample (16, 24, 32)")
	cmd.Flags().IntVar(&periodSize, "period-size", 1024, "The size of a period in frames")
	cmd.Flags().IntVar(&periodCount, "period-count", 4, "The number of periods")
	cmd.Flags().DurationVar(&duration, "duration", 5*time.Second, "How long to capture")
	return cmd
}
