// Package pcm holds the sample-format pipeline: raw device bytes in, mono
// 16-bit PCM plus a loudness reading out. All functions are pure; the
// capture loop owns sequencing.
package pcm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/petems/audiotap/internal/backend"
)

// ConvertToInt16 maps raw interleaved device bytes to int16 samples without
// downmixing. The channel layout is preserved; only the sample width and
// encoding change.
func ConvertToInt16(raw []byte, f backend.Format) ([]int16, error) {
	switch {
	case f.Encoding == backend.EncodingIntPCM && f.BitsPerSample == 16:
		out := make([]int16, len(raw)/2)
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
		}
		return out, nil

	case f.Encoding == backend.EncodingFloatPCM && f.BitsPerSample == 32:
		out := make([]int16, len(raw)/4)
		for i := range out {
			s := math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
			if s > 1.0 {
				s = 1.0
			}
			if s < -1.0 {
				s = -1.0
			}
			out[i] = int16(s * 32767.0)
		}
		return out, nil

	case f.Encoding == backend.EncodingIntPCM && f.BitsPerSample == 24:
		out := make([]int16, len(raw)/3)
		for i := range out {
			o := i * 3
			s := int32(raw[o]) | int32(raw[o+1])<<8 | int32(raw[o+2])<<16
			// Sign-extend from bit 23.
			if s&0x800000 != 0 {
				s |= ^int32(0xffffff)
			}
			out[i] = int16(s >> 8)
		}
		return out, nil
	}

	return nil, backend.NewError(backend.KindUnsupportedFormat, "",
		fmt.Errorf("%d-bit encoding %d", f.BitsPerSample, f.Encoding))
}
