// Package api is the HTTP client for the transcription server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	slerrors "github.com/jwulff/steno-live/internal/errors"
	"github.com/jwulff/steno-live/internal/logging"
	"github.com/jwulff/steno-live/internal/model"
)

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.Path, e.Code, strings.TrimSpace(e.Body))
}

// Is matches ErrPermissionDenied for 401 and 403.
func (e *StatusError) Is(target error) bool {
	return target == slerrors.ErrPermissionDenied &&
		(e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden)
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) { c.log = l }
}

// Client talks to the /v1 API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
	log   logging.Logger
}

// New creates a client for baseURL, e.g. http://localhost:1250.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base: u,
		http: &http.Client{Timeout: 30 * time.Second},
		log:  logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AuthHeader returns the headers the push channel dial needs.
func (c *Client) AuthHeader() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

// CreateSession starts a new transcript.
func (c *Client) CreateSession(ctx context.Context, name string) (model.Session, error) {
	var s model.Session
	err := c.doJSON(ctx, http.MethodPost, "/v1/transcripts", nil, map[string]string{"name": name}, &s)
	if err != nil {
		return model.Session{}, err
	}
	return normalize(s)
}

// GetSession fetches one transcript.
func (c *Client) GetSession(ctx context.Context, id string) (model.Session, error) {
	var s model.Session
	if err := c.doJSON(ctx, http.MethodGet, "/v1/transcripts/"+id, nil, nil, &s); err != nil {
		return model.Session{}, err
	}
	return normalize(s)
}

// Offer posts an SDP offer and returns the server's answer.
func (c *Client) Offer(ctx context.Context, sessionID string, offer model.SessionDescription) (model.SessionDescription, error) {
	var answer model.SessionDescription
	err := c.doJSON(ctx, http.MethodPost, c.sessionPath(sessionID, "record", "webrtc"), nil, offer, &answer)
	return answer, err
}

// UploadChunk streams one chunk as the multipart field "chunk".
func (c *Client) UploadChunk(ctx context.Context, sessionID string, chunk model.AudioChunk, body io.Reader) error {
	if err := chunk.Validate(); err != nil {
		return err
	}
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		fw, err := mw.CreateFormFile("chunk", fmt.Sprintf("chunk-%d", chunk.Index))
		if err == nil {
			_, err = io.Copy(fw, body)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	q := url.Values{}
	q.Set("chunk_number", strconv.Itoa(chunk.Index))
	q.Set("total_chunks", strconv.Itoa(chunk.TotalChunks))

	resp, err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "record", "upload"), q, pr, mw.FormDataContentType())
	if err != nil {
		pr.CloseWithError(err)
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// EventsURL returns the push channel endpoint.
func (c *Client) EventsURL(sessionID string) string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + c.sessionPath(sessionID, "events")
	return u.String()
}

// Waveform fetches amplitude peaks.
func (c *Client) Waveform(ctx context.Context, sessionID string) (model.Waveform, error) {
	var w model.Waveform
	err := c.doJSON(ctx, http.MethodGet, c.sessionPath(sessionID, "audio", "waveform"), nil, nil, &w)
	return w, err
}

// Audio opens the recorded mp3. The caller closes the body.
func (c *Client) Audio(ctx context.Context, sessionID string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodGet, c.sessionPath(sessionID, "audio", "mp3"), nil, nil, "")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Topics lists topic boundaries.
func (c *Client) Topics(ctx context.Context, sessionID string) ([]model.TopicBoundary, error) {
	var topics []model.TopicBoundary
	err := c.doJSON(ctx, http.MethodGet, c.sessionPath(sessionID, "topics"), nil, nil, &topics)
	return topics, err
}

// TopicWords fetches one topic's words grouped by speaker.
func (c *Client) TopicWords(ctx context.Context, sessionID, topicID string) (model.TopicWords, error) {
	var tw model.TopicWords
	err := c.doJSON(ctx, http.MethodGet, c.sessionPath(sessionID, "topics", topicID, "words-per-speaker"), nil, nil, &tw)
	if tw.TopicID == "" {
		tw.TopicID = topicID
	}
	return tw, err
}

// AssignSpeaker relabels an audio range.
func (c *Client) AssignSpeaker(ctx context.Context, sessionID string, req model.SpeakerAssignment) error {
	return c.doJSON(ctx, http.MethodPatch, c.sessionPath(sessionID, "speaker", "assign"), nil, req, nil)
}

// Participants lists speaker aliases.
func (c *Client) Participants(ctx context.Context, sessionID string) ([]model.Participant, error) {
	var ps []model.Participant
	err := c.doJSON(ctx, http.MethodGet, c.sessionPath(sessionID, "participants"), nil, nil, &ps)
	return ps, err
}

// CreateParticipant adds an alias, optionally bound to an existing speaker.
func (c *Client) CreateParticipant(ctx context.Context, sessionID, name string, speaker *int) (model.Participant, error) {
	body := struct {
		Name    string `json:"name"`
		Speaker *int   `json:"speaker,omitempty"`
	}{name, speaker}
	var p model.Participant
	err := c.doJSON(ctx, http.MethodPost, c.sessionPath(sessionID, "participants"), nil, body, &p)
	return p, err
}

// DeleteParticipant removes an alias.
func (c *Client) DeleteParticipant(ctx context.Context, sessionID, participantID string) error {
	return c.doJSON(ctx, http.MethodDelete, c.sessionPath(sessionID, "participants", participantID), nil, nil, nil)
}

func (c *Client) sessionPath(sessionID string, parts ...string) string {
	var b strings.Builder
	b.WriteString("/v1/transcripts/")
	b.WriteString(sessionID)
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(p)
	}
	return b.String()
}

// doJSON sends in as JSON (when non-nil) and decodes the response into out
// (when non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, q url.Values, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	resp, err := c.do(ctx, method, path, q, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// do sends a request and returns the response for 2xx; anything else is a
// *StatusError with the body closed.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body io.Reader, contentType string) (*http.Response, error) {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	log := c.log.WithContext(logging.WithRequestID(ctx, reqID))
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.Debug("request failed", logging.F("method", method), logging.F("path", path), logging.Err(err))
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	log.Debug("request",
		logging.F("method", method),
		logging.F("path", path),
		logging.F("status", resp.StatusCode),
		logging.F("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(b)}
	}
	return resp, nil
}

func normalize(s model.Session) (model.Session, error) {
	if s.Status == "" {
		s.Status = model.StatusIdle
		return s, nil
	}
	status, err := model.ParseStatus(string(s.Status))
	if err != nil {
		return model.Session{}, err
	}
	s.Status = status
	return s, nil
}
