package transport

import (
	"time"

	"github.com/zaf/g711"

	"github.com/jwulff/steno-live/internal/media"
)

const (
	pcmuRate    = 8000
	frameLength = 20 * time.Millisecond
	// pcmuFrameSamples is one 20 ms frame at 8 kHz mono.
	pcmuFrameSamples = pcmuRate / 50
)

// EncodePCMU downmixes an interleaved frame to mono, resamples it to 8 kHz,
// and encodes it as G.711 mu-law.
func EncodePCMU(frame []int16, f media.Format) []byte {
	mono := downmix(frame, f.Channels)
	resampled := resample(mono, f.SampleRate, pcmuRate)
	out := make([]byte, len(resampled))
	for i, s := range resampled {
		out[i] = g711.EncodeUlawFrame(s)
	}
	return out
}

func downmix(frame []int16, channels int) []int16 {
	if channels <= 1 {
		return frame
	}
	out := make([]int16, len(frame)/channels)
	for i := range out {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(frame[i*channels+c])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// resample box-filters each output sample over the input samples it covers.
func resample(in []int16, from, to int) []int16 {
	if from == to || len(in) == 0 {
		return in
	}
	n := len(in) * to / from
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		lo := i * from / to
		hi := (i + 1) * from / to
		if hi <= lo {
			hi = lo + 1
		}
		if hi > len(in) {
			hi = len(in)
		}
		var sum int32
		for _, s := range in[lo:hi] {
			sum += int32(s)
		}
		out[i] = int16(sum / int32(hi-lo))
	}
	return out
}
