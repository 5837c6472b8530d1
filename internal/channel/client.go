package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	slerrors "github.com/jwulff/steno-live/internal/errors"
	"github.com/jwulff/steno-live/internal/logging"
	"github.com/jwulff/steno-live/internal/metrics"
)

// Options configures Connect.
type Options struct {
	Header  http.Header
	Dialer  *websocket.Dialer
	Log     logging.Logger
	Metrics *metrics.Metrics
	// Buffer is the capacity of the events channel.
	Buffer int
}

// Channel is a live push connection for one session.
//
// Events are delivered in server order on a single channel. The consumer
// must drain Events until it is closed; the final event is always
// Disconnected.
type Channel struct {
	conn      *websocket.Conn
	sessionID string
	events    chan Event
	log       logging.Logger
	metrics   *metrics.Metrics

	writeMu   sync.Mutex
	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

// Connect dials url and starts reading frames for sessionID. Cancelling ctx
// after Connect returns closes the channel.
func Connect(ctx context.Context, url, sessionID string, opts Options) (*Channel, error) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	log := opts.Log
	if log == nil {
		log = logging.NewNopLogger()
	}
	buf := opts.Buffer
	if buf <= 0 {
		buf = 64
	}

	conn, resp, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, slerrors.New(slerrors.KindPermissionDenied, "channel", url, err)
		}
		return nil, slerrors.New(slerrors.KindChannelDisconnected, "connect", url, err)
	}

	c := &Channel{
		conn:      conn,
		sessionID: sessionID,
		events:    make(chan Event, buf),
		log:       log.With(logging.F("session_id", sessionID), logging.F("component", "channel")),
		metrics:   opts.Metrics,
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	c.log.Info("channel connected", logging.F("url", url))

	go c.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.done:
		}
	}()
	return c, nil
}

// Events returns the event stream.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// SessionID returns the session this channel follows.
func (c *Channel) SessionID() string {
	return c.sessionID
}

// Close sends a close frame and tears down the connection. The reader then
// delivers Disconnected and closes Events. Safe to call more than once.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// Done is closed after Disconnected has been delivered.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) readLoop() {
	defer close(c.done)
	defer close(c.events)

	var dec decoder
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn("skipping malformed frame", logging.Err(err))
			c.metrics.RecordChannelEvent("malformed")
			continue
		}

		ev, err := dec.decode(f)
		if err != nil {
			c.log.Warn("skipping frame", logging.F("event", f.Event), logging.Err(err))
			c.metrics.RecordChannelEvent("skipped")
			continue
		}
		c.metrics.RecordChannelEvent(f.Event)
		if ev == nil {
			continue
		}
		c.events <- ev
	}
}

// finish emits the single Disconnected event.
func (c *Channel) finish(readErr error) {
	var reason error
	select {
	case <-c.closing:
		reason = slerrors.New(slerrors.KindChannelDisconnected, "closed", "closed by client", nil)
		c.log.Info("channel closed")
	default:
		msg := "read failed"
		if websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			msg = "closed by server"
		}
		reason = slerrors.New(slerrors.KindChannelDisconnected, "read", msg, readErr)
		c.log.Warn("channel disconnected", logging.Err(readErr))
		_ = c.conn.Close()
	}
	c.metrics.RecordDisconnect()
	c.events <- Disconnected{Reason: reason}
}

// IsClientClose reports whether a Disconnected reason came from Close.
func IsClientClose(reason error) bool {
	var pe *slerrors.PipelineError
	return errors.As(reason, &pe) && pe.Stage == "closed"
}

