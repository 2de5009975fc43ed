package frames

import "testing"

func TestAudioFrameIsImmutable(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	f := NewAudioFrame("s1", 1, 10, payload, 44100, 1, map[string]string{MetaSource: "test"})

	data := f.Data()
	data[0] = 9
	if f.RawPayload()[0] != 1 {
		t.Fatalf("Data must return a copy")
	}
	meta := f.Meta()
	meta[MetaSource] = "mutated"
	if f.Meta()[MetaSource] != "test" {
		t.Fatalf("Meta must return a copy")
	}
	if f.Meta()[MetaSessionID] != "s1" || f.Seq() != 1 || f.Len() != 4 {
		t.Fatalf("unexpected frame fields: %+v", f.Meta())
	}
}

func TestTranscriptFrameFinalFlag(t *testing.T) {
	f := NewTranscriptFrame("s1", 1, "konnichiwa", true, nil)
	if !f.IsFinal() || f.Meta()[MetaIsFinal] != "true" {
		t.Fatalf("expected final transcript frame")
	}
	if f.Kind() != KindTranscript {
		t.Fatalf("unexpected kind %s", f.Kind())
	}
}

func TestSeqGenMonotonic(t *testing.T) {
	var g SeqGen
	for want := uint64(1); want <= 5; want++ {
		if got := g.Next(); got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
	if g.Last() != 5 {
		t.Fatalf("expected last 5, got %d", g.Last())
	}
}
