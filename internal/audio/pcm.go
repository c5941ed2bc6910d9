package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
)

// DefaultSampleRate is the fixed wire format: PCM16 mono at 24 kHz.
const DefaultSampleRate = 24000

// base64ChunkBytes bounds each encode step so arbitrarily large capture
// blocks never serialize in one call.
const base64ChunkBytes = 8192

// Float32ToPCM16LE converts [-1,1] samples to signed 16-bit little-endian.
// Out-of-range samples clamp rather than wrap.
func Float32ToPCM16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7fff)
		}
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(v))
	}
	return out
}

// PCM16LEToFloat32 is the inverse of Float32ToPCM16LE. A trailing odd
// byte is dropped.
func PCM16LEToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		if v < 0 {
			out[i] = float32(v) / 0x8000
		} else {
			out[i] = float32(v) / 0x7fff
		}
	}
	return out
}

// EncodeBase64 base64-encodes pcm in bounded sub-chunks. The output is
// identical to a single-call encode.
func EncodeBase64(pcm []byte) string {
	var sb strings.Builder
	sb.Grow(base64.StdEncoding.EncodedLen(len(pcm)))
	enc := base64.NewEncoder(base64.StdEncoding, &sb)
	for off := 0; off < len(pcm); off += base64ChunkBytes {
		end := off + base64ChunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		_, _ = enc.Write(pcm[off:end])
	}
	_ = enc.Close()
	return sb.String()
}

// DecodeBase64 decodes a base64 PCM16 chunk.
func DecodeBase64(b64 string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode audio chunk: %w", err)
	}
	return pcm, nil
}

// DurationMS reports the playback duration of a PCM16 mono byte count.
func DurationMS(byteLen, sampleRate int) float64 {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return float64(byteLen) / 2 / float64(sampleRate) * 1000
}

// Base64DurationMS estimates duration from the encoded length without
// decoding, close enough for advisory checks.
func Base64DurationMS(b64 string, sampleRate int) float64 {
	return DurationMS(len(b64)*3/4, sampleRate)
}
