package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	slerrors "github.com/jwulff/steno-live/internal/errors"
	"github.com/jwulff/steno-live/internal/model"
)

// startMockServer serves handler and returns a client pointed at it.
func startMockServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, WithToken("secret"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestClientSendsAuthAndRequestID(t *testing.T) {
	var gotAuth, gotReqID string
	c := startMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReqID = r.Header.Get("X-Request-ID")
		json.NewEncoder(w).Encode(model.Session{ID: "s1", Status: "uploaded"})
	})

	s, err := c.GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if _, err := uuid.Parse(gotReqID); err != nil {
		t.Errorf("request id %q is not a uuid: %v", gotReqID, err)
	}
	if s.Status != model.StatusProcessing {
		t.Errorf("status = %q, want processing", s.Status)
	}
}

func TestCreateSession(t *testing.T) {
	c := startMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/transcripts" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["name"] != "standup" {
			t.Errorf("name = %q", body["name"])
		}
		w.Write([]byte(`{"id":"new-1","name":"standup"}`))
	})

	s, err := c.CreateSession(context.Background(), "standup")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.ID != "new-1" || s.Status != model.StatusIdle {
		t.Errorf("session = %+v", s)
	}
}

func TestOffer(t *testing.T) {
	c := startMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transcripts/s1/record/webrtc" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var offer model.SessionDescription
		json.NewDecoder(r.Body).Decode(&offer)
		if offer.Type != "offer" {
			t.Errorf("offer type = %q", offer.Type)
		}
		json.NewEncoder(w).Encode(model.SessionDescription{Type: "answer", SDP: "v=0"})
	})

	answer, err := c.Offer(context.Background(), "s1", model.SessionDescription{Type: "offer", SDP: "v=0"})
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if answer.Type != "answer" {
		t.Errorf("answer = %+v", answer)
	}
}

func TestUploadChunkMultipart(t *testing.T) {
	c := startMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transcripts/s1/record/upload" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("chunk_number"); got != "1" {
			t.Errorf("chunk_number = %q", got)
		}
		if got := r.URL.Query().Get("total_chunks"); got != "3" {
			t.Errorf("total_chunks = %q", got)
		}
		f, _, err := r.FormFile("chunk")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		data, _ := io.ReadAll(f)
		if string(data) != "audio-bytes" {
			t.Errorf("chunk body = %q", data)
		}
		w.WriteHeader(http.StatusOK)
	})

	err := c.UploadChunk(context.Background(), "s1", model.AudioChunk{Index: 1, TotalChunks: 3}, strings.NewReader("audio-bytes"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
}

func TestUploadChunkRejectsBadIndex(t *testing.T) {
	c := startMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request sent for invalid chunk")
	})
	err := c.UploadChunk(context.Background(), "s1", model.AudioChunk{Index: 3, TotalChunks: 3}, strings.NewReader("x"))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestStatusErrors(t *testing.T) {
	tests := []struct {
		code       int
		permission bool
	}{
		{http.StatusUnauthorized, true},
		{http.StatusForbidden, true},
		{http.StatusNotFound, false},
		{http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			c := startMockServer(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.code)
			})
			_, err := c.Topics(context.Background(), "s1")

			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want *StatusError", err)
			}
			if se.Code != tt.code {
				t.Errorf("code = %d, want %d", se.Code, tt.code)
			}
			if got := errors.Is(err, slerrors.ErrPermissionDenied); got != tt.permission {
				t.Errorf("permission denied = %v, want %v", got, tt.permission)
			}
		})
	}
}

func TestCorrectionEndpoints(t *testing.T) {
	var assigned model.SpeakerAssignment
	var deleted string
	c := startMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/transcripts/s1/topics":
			w.Write([]byte(`[{"id":"t1","title":"Intro","timestamp":0,"transcript":"hi"}]`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/transcripts/s1/topics/t1/words-per-speaker":
			w.Write([]byte(`{"words_per_speaker":[{"speaker":0,"words":[{"text":"hi","start":0,"end":0.4}]}]}`))
		case r.Method == http.MethodPatch && r.URL.Path == "/v1/transcripts/s1/speaker/assign":
			json.NewDecoder(r.Body).Decode(&assigned)
			w.Write([]byte(`{"status":"ok"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/transcripts/s1/participants":
			w.Write([]byte(`[{"id":"p1","name":"Ada","speaker":0}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/transcripts/s1/participants":
			w.Write([]byte(`{"id":"p2","name":"Grace","speaker":1}`))
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/v1/transcripts/s1/participants/"):
			deleted = strings.TrimPrefix(r.URL.Path, "/v1/transcripts/s1/participants/")
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/transcripts/s1/audio/waveform":
			w.Write([]byte(`{"data":[0.1,0.5]}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	topics, err := c.Topics(ctx, "s1")
	if err != nil || len(topics) != 1 || topics[0].Title != "Intro" {
		t.Fatalf("topics = %+v, %v", topics, err)
	}

	words, err := c.TopicWords(ctx, "s1", "t1")
	if err != nil {
		t.Fatalf("topic words: %v", err)
	}
	if words.TopicID != "t1" || len(words.Groups) != 1 || words.Groups[0].Words[0].EndSeconds != 0.4 {
		t.Errorf("words = %+v", words)
	}

	req := model.SpeakerAssignment{Participant: "p1", TimestampFrom: 1, TimestampTo: 2}
	if err := c.AssignSpeaker(ctx, "s1", req); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if assigned != req {
		t.Errorf("assigned = %+v", assigned)
	}

	ps, err := c.Participants(ctx, "s1")
	if err != nil || len(ps) != 1 || ps[0].Name != "Ada" {
		t.Errorf("participants = %+v, %v", ps, err)
	}

	p, err := c.CreateParticipant(ctx, "s1", "Grace", nil)
	if err != nil || p.ID != "p2" {
		t.Errorf("create participant = %+v, %v", p, err)
	}

	if err := c.DeleteParticipant(ctx, "s1", "p2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != "p2" {
		t.Errorf("deleted = %q", deleted)
	}

	wf, err := c.Waveform(ctx, "s1")
	if err != nil || len(wf.Samples) != 2 {
		t.Errorf("waveform = %+v, %v", wf, err)
	}
}

func TestAudioStreamsBody(t *testing.T) {
	c := startMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transcripts/s1/audio/mp3" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3fake"))
	})

	body, err := c.Audio(context.Background(), "s1")
	if err != nil {
		t.Fatalf("audio: %v", err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)
	if string(data) != "ID3fake" {
		t.Errorf("body = %q", data)
	}
}

func TestEventsURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:1250", "ws://localhost:1250/v1/transcripts/s1/events"},
		{"https://api.example.com/", "wss://api.example.com/v1/transcripts/s1/events"},
		{"https://example.com/reflector", "wss://example.com/reflector/v1/transcripts/s1/events"},
	}
	for _, tt := range tests {
		c, err := New(tt.base)
		if err != nil {
			t.Fatalf("new %s: %v", tt.base, err)
		}
		if got := c.EventsURL("s1"); got != tt.want {
			t.Errorf("EventsURL(%s) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestNewRejectsBadScheme(t *testing.T) {
	if _, err := New("ftp://example.com"); err == nil {
		t.Error("expected error for ftp scheme")
	}
}
