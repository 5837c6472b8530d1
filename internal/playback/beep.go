package playback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/speaker"

	"github.com/jwulff/steno-live/internal/logging"
	"github.com/jwulff/steno-live/internal/waveform"
)

// Beep plays session audio through the system speaker.
type Beep struct {
	stream beep.StreamSeekCloser
	format beep.Format
	ctrl   *beep.Ctrl
	log    logging.Logger
	obs    observers

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// decodeMP3 buffers r in memory so the decoder can seek.
func decodeMP3(r io.Reader) (beep.StreamSeekCloser, beep.Format, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("read audio: %w", err)
	}
	stream, format, err := mp3.Decode(readSeekCloser{bytes.NewReader(data)})
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("decode mp3: %w", err)
	}
	return stream, format, nil
}

// OpenBeep decodes mp3 audio from r and prepares the speaker. Playback starts
// paused. Observers are notified every tick while the player is open.
func OpenBeep(r io.Reader, tick time.Duration, log logging.Logger) (*Beep, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	stream, format, err := decodeMP3(r)
	if err != nil {
		return nil, err
	}
	if err := speaker.Init(format.SampleRate, format.SampleRate.N(100*time.Millisecond)); err != nil {
		stream.Close()
		return nil, fmt.Errorf("init speaker: %w", err)
	}

	b := &Beep{
		stream: stream,
		format: format,
		// Trailing silence keeps the streamer alive past the end so Play
		// after a seek back still works.
		ctrl: &beep.Ctrl{Streamer: beep.Seq(stream, beep.Silence(-1)), Paused: true},
		log:  log,
	}
	speaker.Play(b.ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.wg.Add(1)
	go b.tick(ctx, tick)

	log.Info("audio ready", logging.F("duration", b.Duration()), logging.F("sample_rate", int(format.SampleRate)))
	return b, nil
}

// Duration returns the audio length in seconds.
func (b *Beep) Duration() float64 {
	speaker.Lock()
	defer speaker.Unlock()
	return b.format.SampleRate.D(b.stream.Len()).Seconds()
}

func (b *Beep) Position() float64 {
	speaker.Lock()
	defer speaker.Unlock()
	return b.format.SampleRate.D(b.stream.Position()).Seconds()
}

func (b *Beep) Seek(seconds float64) {
	speaker.Lock()
	n := b.format.SampleRate.N(time.Duration(seconds * float64(time.Second)))
	n = max(0, min(n, b.stream.Len()))
	if err := b.stream.Seek(n); err != nil {
		b.log.Warn("seek failed", logging.F("seconds", seconds), logging.Err(err))
	}
	pos := b.format.SampleRate.D(b.stream.Position()).Seconds()
	speaker.Unlock()
	b.obs.notify(pos)
}

func (b *Beep) Play() {
	speaker.Lock()
	b.ctrl.Paused = false
	speaker.Unlock()
}

func (b *Beep) Pause() {
	speaker.Lock()
	b.ctrl.Paused = true
	speaker.Unlock()
}

func (b *Beep) Playing() bool {
	speaker.Lock()
	defer speaker.Unlock()
	return !b.ctrl.Paused && b.stream.Position() < b.stream.Len()
}

func (b *Beep) unpaused() bool {
	speaker.Lock()
	defer speaker.Unlock()
	return !b.ctrl.Paused
}

func (b *Beep) Observe(fn func(float64)) waveform.Subscription {
	return b.obs.add(fn)
}

// Close stops the ticker, clears the speaker and releases the decoder.
func (b *Beep) Close() error {
	b.cancel()
	b.wg.Wait()
	b.obs.clear()
	speaker.Clear()
	return b.stream.Close()
}

func (b *Beep) tick(ctx context.Context, every time.Duration) {
	defer b.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			// Unpaused at the end still notifies so a range ending at the
			// last sample can stop.
			if b.unpaused() {
				b.obs.notify(b.Position())
			}
		}
	}
}

type readSeekCloser struct {
	*bytes.Reader
}

func (readSeekCloser) Close() error { return nil }
