// Package playback provides players that drive a waveform cursor.
package playback

import (
	"context"
	"sync"
	"time"

	"github.com/jwulff/steno-live/internal/waveform"
)

// observers fans position updates out to subscribers.
type observers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(float64)
}

func (o *observers) add(fn func(float64)) waveform.Subscription {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fns == nil {
		o.fns = make(map[int]func(float64))
	}
	id := o.next
	o.next++
	o.fns[id] = fn
	return &subscription{o: o, id: id}
}

func (o *observers) notify(pos float64) {
	o.mu.Lock()
	fns := make([]func(float64), 0, len(o.fns))
	for i := 0; i < o.next; i++ {
		if fn, ok := o.fns[i]; ok {
			fns = append(fns, fn)
		}
	}
	o.mu.Unlock()
	for _, fn := range fns {
		fn(pos)
	}
}

func (o *observers) remove(id int) {
	o.mu.Lock()
	delete(o.fns, id)
	o.mu.Unlock()
}

func (o *observers) clear() {
	o.mu.Lock()
	o.fns = nil
	o.mu.Unlock()
}

func (o *observers) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.fns)
}

type subscription struct {
	o    *observers
	id   int
	once sync.Once
}

func (s *subscription) Cancel() {
	s.once.Do(func() { s.o.remove(s.id) })
}

// Clock is a silent player that advances on demand. It stops at its
// duration when one is set.
type Clock struct {
	mu       sync.Mutex
	pos      time.Duration
	duration time.Duration
	playing  bool
	obs      observers
}

// NewClock returns a paused clock at 0.
func NewClock(durationSeconds float64) *Clock {
	return &Clock{duration: seconds(durationSeconds)}
}

func (c *Clock) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos.Seconds()
}

func (c *Clock) Seek(s float64) {
	c.mu.Lock()
	c.pos = c.clamp(seconds(s))
	pos := c.pos.Seconds()
	c.mu.Unlock()
	c.obs.notify(pos)
}

func (c *Clock) Play() {
	c.mu.Lock()
	c.playing = true
	c.mu.Unlock()
}

func (c *Clock) Pause() {
	c.mu.Lock()
	c.playing = false
	c.mu.Unlock()
}

func (c *Clock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

func (c *Clock) Observe(fn func(float64)) waveform.Subscription {
	return c.obs.add(fn)
}

// Observers returns the number of live subscriptions.
func (c *Clock) Observers() int {
	return c.obs.len()
}

// SetDuration updates the stop point.
func (c *Clock) SetDuration(s float64) {
	c.mu.Lock()
	c.duration = seconds(s)
	c.mu.Unlock()
}

// Advance moves a playing clock forward by d and notifies observers.
// A paused clock does not move.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	if !c.playing {
		c.mu.Unlock()
		return
	}
	c.pos = c.clamp(c.pos + d)
	if c.duration > 0 && c.pos >= c.duration {
		c.playing = false
	}
	pos := c.pos.Seconds()
	c.mu.Unlock()
	c.obs.notify(pos)
}

// Run advances the clock by tick every tick until ctx is done.
func (c *Clock) Run(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Advance(tick)
		}
	}
}

// Close drops every observer.
func (c *Clock) Close() error {
	c.Pause()
	c.obs.clear()
	return nil
}

func (c *Clock) clamp(v time.Duration) time.Duration {
	if v < 0 {
		return 0
	}
	if c.duration > 0 && v > c.duration {
		return c.duration
	}
	return v
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
