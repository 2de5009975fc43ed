package audio

import (
	"math"
	"testing"
	"time"
)

func TestFloat32ToInt16Clamps(t *testing.T) {
	got := Float32ToInt16([]float32{1.5, -2.0, 1, -1, 0})
	want := []int16{math.MaxInt16, -math.MaxInt16, math.MaxInt16, -math.MaxInt16, 0}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: %d vs %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestFloat32ToInt16Monotonic(t *testing.T) {
	var in []float32
	for v := -1.0; v <= 1.0; v += 1.0 / 512 {
		in = append(in, float32(v))
	}
	out := DecodePCM16LE(EncodePCM16LE(Float32ToInt16(in)))
	for i := 1; i < len(out); i++ {
		if out[i] < out[i-1] {
			t.Fatalf("non-monotonic at %d: %d < %d", i, out[i], out[i-1])
		}
	}
}

func TestFloat32ToInt16NaNIsSilence(t *testing.T) {
	got := Float32ToInt16([]float32{float32(math.NaN())})
	if got[0] != 0 {
		t.Fatalf("expected NaN to map to 0, got %d", got[0])
	}
}

func TestEncodePCM16LEByteOrder(t *testing.T) {
	b := EncodePCM16LE([]int16{0x0102, -2})
	want := []byte{0x02, 0x01, 0xfe, 0xff}
	for i := range want {
		if b[i] != want[i] {
			t.Fatalf("byte %d: expected %#x, got %#x", i, want[i], b[i])
		}
	}
	if len(DecodePCM16LE(append(b, 0x7f))) != 2 {
		t.Fatalf("trailing odd byte must be ignored")
	}
}

func TestPCMDuration(t *testing.T) {
	if d := PCMDuration(88200, 44100, 1); d != time.Second {
		t.Fatalf("expected 1s, got %v", d)
	}
	if d := PCMDuration(100, 0, 1); d != 0 {
		t.Fatalf("expected 0 for invalid rate, got %v", d)
	}
}
