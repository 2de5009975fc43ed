// Package audio converts captured samples to the 16-bit PCM wire format.
package audio

import (
	"encoding/binary"
	"time"
)

// Float32ToInt16 clamps each sample to [-1, 1] and scales it by 0x7fff.
// The result has the same length as the input.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		// NaN compares false on both sides and ends up as silence.
		v := float32(0)
		switch {
		case s >= 1:
			v = 1
		case s <= -1:
			v = -1
		case s == s:
			v = s
		}
		out[i] = int16(v * 0x7fff)
	}
	return out
}

// EncodePCM16LE serializes samples as signed 16-bit little-endian bytes.
func EncodePCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodePCM16LE is the inverse of EncodePCM16LE. A trailing odd byte is ignored.
func DecodePCM16LE(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// EncodeFrame converts float samples straight into a transport frame payload.
func EncodeFrame(samples []float32) []byte {
	return EncodePCM16LE(Float32ToInt16(samples))
}

// PCMDuration returns the playback length of n bytes of 16-bit PCM.
func PCMDuration(n int64, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := n / int64(2*channels)
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
