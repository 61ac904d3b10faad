package session

import (
	"encoding/binary"
	"fmt"

	"github.com/go-audio/audio"

	"github.com/micro-nova/amplipi-pal/internal/models"
)

// Samples are packed little-endian at BitWidth/8 bytes each.

// BytesToIntBuffer converts interleaved PCM bytes into an audio.IntBuffer.
// A trailing partial sample is ignored.
func BytesToIntBuffer(data []byte, mc models.MediaConfig) (*audio.IntBuffer, error) {
	width := int(mc.BitWidth / 8)
	if width < 2 || width > 4 {
		return nil, models.ErrInvalidArgument(fmt.Sprintf("unsupported bit width %d", mc.BitWidth))
	}
	n := len(data) / width
	ints := make([]int, n)
	for i := 0; i < n; i++ {
		off := i * width
		switch width {
		case 2:
			ints[i] = int(int16(binary.LittleEndian.Uint16(data[off:])))
		case 3:
			v := uint32(data[off]) | uint32(data[off+1])<<8 | uint32(data[off+2])<<16
			if v&0x800000 != 0 {
				v |= 0xFF000000
			}
			ints[i] = int(int32(v))
		case 4:
			ints[i] = int(int32(binary.LittleEndian.Uint32(data[off:])))
		}
	}
	return &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: int(mc.Channels),
			SampleRate:  int(mc.SampleRate),
		},
		Data:           ints,
		SourceBitDepth: int(mc.BitWidth),
	}, nil
}

// IntBufferToBytes packs buf at bitWidth. Samples from a source with a
// different depth are shifted to the target depth.
func IntBufferToBytes(buf *audio.IntBuffer, bitWidth uint32) ([]byte, error) {
	width := int(bitWidth / 8)
	if width < 2 || width > 4 {
		return nil, models.ErrInvalidArgument(fmt.Sprintf("unsupported bit width %d", bitWidth))
	}
	shift := int(bitWidth) - buf.SourceBitDepth
	if buf.SourceBitDepth == 0 {
		shift = 0
	}
	out := make([]byte, len(buf.Data)*width)
	for i, s := range buf.Data {
		switch {
		case shift > 0:
			s <<= shift
		case shift < 0:
			s >>= -shift
		}
		off := i * width
		switch width {
		case 2:
			binary.LittleEndian.PutUint16(out[off:], uint16(int16(s)))
		case 3:
			v := uint32(int32(s))
			out[off] = byte(v)
			out[off+1] = byte(v >> 8)
			out[off+2] = byte(v >> 16)
		case 4:
			binary.LittleEndian.PutUint32(out[off:], uint32(int32(s)))
		}
	}
	return out, nil
}
