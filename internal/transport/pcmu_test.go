package transport

import (
	"testing"

	"github.com/zaf/g711"

	"github.com/jwulff/steno-live/internal/media"
)

func TestEncodePCMUFrameSize(t *testing.T) {
	tests := []struct {
		name   string
		format media.Format
	}{
		{"48k mono", media.Format{SampleRate: 48000, Channels: 1}},
		{"48k stereo", media.Format{SampleRate: 48000, Channels: 2}},
		{"16k mono", media.Format{SampleRate: 16000, Channels: 1}},
		{"8k mono", media.Format{SampleRate: 8000, Channels: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := make([]int16, tt.format.SamplesPer(20))
			got := EncodePCMU(frame, tt.format)
			if len(got) != pcmuFrameSamples {
				t.Errorf("encoded %d bytes, want %d", len(got), pcmuFrameSamples)
			}
		})
	}
}

func TestEncodePCMUPreservesLevel(t *testing.T) {
	f := media.Format{SampleRate: 16000, Channels: 2}
	frame := make([]int16, f.SamplesPer(20))
	for i := range frame {
		frame[i] = 8000
	}

	for i, b := range EncodePCMU(frame, f) {
		got := g711.DecodeUlawFrame(b)
		if got < 7500 || got > 8500 {
			t.Fatalf("sample %d decoded to %d, want ~8000", i, got)
		}
	}
}

func TestDownmixAverages(t *testing.T) {
	got := downmix([]int16{100, 300, -50, 50}, 2)
	if len(got) != 2 || got[0] != 200 || got[1] != 0 {
		t.Errorf("downmix = %v, want [200 0]", got)
	}
}
