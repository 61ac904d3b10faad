package models

import "time"

const (
	// MaxChannels is the largest channel count a stream accepts. Larger
	// values are clamped at construction.
	MaxChannels = 8

	// SSRRecovery is the backoff applied when an operation is refused
	// because the card is offline.
	SSRRecovery = 10 * time.Millisecond

	PlaybackBufSize = 1024
	CaptureBufSize  = 960
	DefaultBufCount = 4
)

// DefaultInBufConfig returns the capture buffer configuration.
func DefaultInBufConfig() BufferConfig {
	return BufferConfig{Count: DefaultBufCount, Size: CaptureBufSize}
}

// DefaultOutBufConfig returns the playback buffer configuration.
func DefaultOutBufConfig() BufferConfig {
	return BufferConfig{Count: DefaultBufCount, Size: PlaybackBufSize}
}

// IsSampleRateSupported reports whether rate is one of the standard rates.
func IsSampleRateSupported(rate uint32) bool {
	switch rate {
	case 8000, 16000, 22050, 32000, 44100, 48000, 96000, 192000, 384000:
		return true
	}
	return false
}

// IsChannelSupported reports whether n is a supported channel count.
func IsChannelSupported(n uint32) bool {
	return n >= 1 && n <= MaxChannels
}

// IsBitWidthSupported reports whether bits is a supported sample width.
func IsBitWidthSupported(bits uint32) bool {
	switch bits {
	case 16, 24, 32:
		return true
	}
	return false
}

// ValidateMediaConfig checks a media configuration against the supported
// rates, channel counts and widths.
func ValidateMediaConfig(m MediaConfig) error {
	if !IsSampleRateSupported(m.SampleRate) {
		return ErrInvalidArgument("sample rate not supported")
	}
	if !IsChannelSupported(m.Channels) {
		return ErrInvalidArgument("channels not supported")
	}
	if !IsBitWidthSupported(m.BitWidth) {
		return ErrInvalidArgument("bit width not supported")
	}
	return nil
}
