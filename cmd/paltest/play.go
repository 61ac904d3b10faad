package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/cobra"

	"github.com/micro-nova/amplipi-pal/internal/models"
	"github.com/micro-nova/amplipi-pal/internal/session"
)

func playCommand() *cobra.Command {
	var (
		streamType  string
		periodSize  int
		periodCount int
	)

	cmd := &cobra.Command{
		Use:   "play FILE.wav",
		Short: "Play a WAV file through a playback stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening WAV file: %w", err)
			}
			defer f.Close()

			decoder := wav.NewDecoder(f)
			if !decoder.IsValidFile() {
				return errors.New("invalid WAV file")
			}
			mc, err := mediaConfig(int(decoder.SampleRate), int(decoder.NumChans), int(decoder.BitDepth))
			if err != nil {
				return err
			}

			h, err := newHAL()
			if err != nil {
				return err
			}
			defer h.Close()

			s, err := h.stream(&models.StreamAttributes{
				Type:           models.StreamType(streamType),
				Direction:      models.DirectionOutput,
				OutMediaConfig: mc,
			})
			if err != nil {
				return fmt.Errorf("creating stream: %w", err)
			}
			defer s.Close()

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

			fmt.Printf("Playing %s: %d channels, %d Hz, %d bit (%s backend)\n",
				args[0], mc.Channels, mc.SampleRate, mc.BitWidth, h.cfg.Backend)

			pcmBuffer := &audio.IntBuffer{
				Format: &audio.Format{
					NumChannels: int(decoder.NumChans),
					SampleRate:  int(decoder.SampleRate),
				},
				Data:           make([]int, periodSize*int(decoder.NumChans)),
				SourceBitDepth: int(decoder.BitDepth),
			}

			start := time.Now()
			var written int
			for {
				// n is the number of SAMPLES read from the decoder.
				n, err := decoder.PCMBuffer(pcmBuffer)
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("reading WAV: %w", err)
				}
				if n == 0 {
					break
				}
				chunk := &audio.IntBuffer{Format: pcmBuffer.Format, Data: pcmBuffer.Data[:n], SourceBitDepth: pcmBuffer.SourceBitDepth}
				data, err := session.IntBufferToBytes(chunk, mc.BitWidth)
				if err != nil {
					return err
				}
				w, err := s.Write(&models.Buffer{Data: data})
				if err != nil {
					return fmt.Errorf("write: %w (errno %d)", err, models.Errno(err))
				}
				written += w
			}

			if err := s.Drain(models.DrainAll); err != nil {
				fmt.Fprintf(os.Stderr, "drain: %v\n", err)
			}
			if err := s.Stop(); err != nil {
				return fmt.Errorf("stopping stream: %w", err)
			}
			fmt.Printf("Wrote %d bytes (%v of audio) in %v\n",
				written, mc.BytesToDuration(written), time.Since(start).Round(time.Millisecond))
			h.reportDropped()
			return nil
		},
	}

	cmd.Flags().StringVar(&streamType, "type", string(models.StreamTypeNonTunnel), "Stream type (route)")
	cmd.Flags().IntVar(&periodSize, "period-size", 1024, "The size of a period in frames")
	cmd.Flags().IntVar(&periodCount, "period-count", 4, "The number of periods")
	return cmd
}
