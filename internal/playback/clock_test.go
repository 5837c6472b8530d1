package playback

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockAdvancesOnlyWhilePlaying(t *testing.T) {
	c := NewClock(10)
	c.Advance(time.Second)
	assert.Equal(t, 0.0, c.Position())

	c.Play()
	c.Advance(1500 * time.Millisecond)
	assert.InDelta(t, 1.5, c.Position(), 1e-9)

	c.Pause()
	c.Advance(time.Second)
	assert.InDelta(t, 1.5, c.Position(), 1e-9)
}

func TestClockStopsAtDuration(t *testing.T) {
	c := NewClock(2)
	c.Play()
	c.Advance(5 * time.Second)
	assert.Equal(t, 2.0, c.Position())
	assert.False(t, c.Playing())
}

func TestClockSeekClamps(t *testing.T) {
	c := NewClock(4)
	c.Seek(-1)
	assert.Equal(t, 0.0, c.Position())
	c.Seek(9)
	assert.Equal(t, 4.0, c.Position())
}

func TestClockObservers(t *testing.T) {
	c := NewClock(0)
	var got []float64
	sub := c.Observe(func(p float64) { got = append(got, p) })

	c.Seek(1)
	c.Play()
	c.Advance(time.Second)
	assert.Equal(t, []float64{1, 2}, got)

	sub.Cancel()
	sub.Cancel()
	c.Advance(time.Second)
	assert.Len(t, got, 2)
	assert.Equal(t, 0, c.Observers())
}

func TestClockObserverMayCancelItself(t *testing.T) {
	c := NewClock(0)
	calls := 0
	var sub interface{ Cancel() }
	sub = c.Observe(func(float64) {
		calls++
		sub.Cancel()
	})
	c.Play()
	c.Advance(time.Second)
	c.Advance(time.Second)
	assert.Equal(t, 1, calls)
}

func TestClockRun(t *testing.T) {
	c := NewClock(0)
	c.Play()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return c.Position() > 0.02 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestClockCloseDropsObservers(t *testing.T) {
	c := NewClock(0)
	c.Observe(func(float64) {})
	require.NoError(t, c.Close())
	assert.Equal(t, 0, c.Observers())
	assert.False(t, c.Playing())
}

func TestOpenBeepRejectsNonMP3(t *testing.T) {
	_, err := OpenBeep(strings.NewReader("definitely not audio"), 50*time.Millisecond, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode mp3")
}
