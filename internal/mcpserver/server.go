// Package mcpserver exposes session topics, selection resolution and
// speaker reassignment as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jwulff/steno-live/internal/logging"
	"github.com/jwulff/steno-live/internal/metrics"
	"github.com/jwulff/steno-live/internal/model"
	"github.com/jwulff/steno-live/internal/participant"
	"github.com/jwulff/steno-live/internal/selection"
)

// Backend is the server surface the tools read and mutate.
type Backend interface {
	participant.Backend
	Topics(ctx context.Context, sessionID string) ([]model.TopicBoundary, error)
}

// Server holds the tool handlers.
type Server struct {
	backend      Backend
	participants *participant.Service
	log          logging.Logger
	version      string
}

// New creates a Server.
func New(backend Backend, version string, log logging.Logger, m *metrics.Metrics) *Server {
	if log == nil {
		log = logging.NewNopLogger()
	}
	log = log.With(logging.F("component", "mcp"))
	return &Server{
		backend:      backend,
		participants: participant.New(backend, log, m),
		log:          log,
		version:      version,
	}
}

// MCP builds the MCP server with every tool registered.
func (s *Server) MCP() *server.MCPServer {
	srv := server.NewMCPServer("stenolive", s.version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	srv.AddTool(mcp.NewTool("list_topics",
		mcp.WithDescription("List the topics of a session in time order."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	), s.listTopics)

	srv.AddTool(mcp.NewTool("topic_tokens",
		mcp.WithDescription("List the speaker labels and words of one topic as indexed tokens. Use the indexes with resolve_selection."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithString("topic_id", mcp.Required(), mcp.Description("Topic ID")),
	), s.topicTokens)

	srv.AddTool(mcp.NewTool("resolve_selection",
		mcp.WithDescription("Resolve a selection over a topic's tokens into a speaker or an audio time slice."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithString("topic_id", mcp.Required(), mcp.Description("Topic ID")),
		mcp.WithNumber("anchor_index", mcp.Required(), mcp.Description("Token index where the selection starts")),
		mcp.WithNumber("anchor_offset", mcp.Description("Character offset inside the anchor token")),
		mcp.WithNumber("focus_index", mcp.Required(), mcp.Description("Token index where the selection ends")),
		mcp.WithNumber("focus_offset", mcp.Description("Character offset inside the focus token")),
	), s.resolveSelection)

	srv.AddTool(mcp.NewTool("assign_speaker",
		mcp.WithDescription("Attribute an audio range to a participant or a speaker number. Returns the topic's words as re-read from the server."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithString("topic_id", mcp.Required(), mcp.Description("Topic whose words to return")),
		mcp.WithNumber("start", mcp.Required(), mcp.Description("Range start in seconds")),
		mcp.WithNumber("end", mcp.Required(), mcp.Description("Range end in seconds")),
		mcp.WithString("participant_id", mcp.Description("Participant to assign")),
		mcp.WithNumber("speaker", mcp.Description("Speaker number, used when participant_id is empty")),
	), s.assignSpeaker)

	srv.AddTool(mcp.NewTool("list_participants",
		mcp.WithDescription("List the participants of a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	), s.listParticipants)

	return srv
}

// ServeStdio serves the tools on stdin/stdout until EOF.
func (s *Server) ServeStdio() error {
	s.log.Info("serving MCP on stdio")
	return server.ServeStdio(s.MCP())
}

func (s *Server) listTopics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	topics, err := s.backend.Topics(ctx, sessionID)
	if err != nil {
		return s.failed("list topics", err), nil
	}

	type topicView struct {
		ID        string  `json:"id"`
		Title     string  `json:"title"`
		Timestamp float64 `json:"timestamp"`
		Summary   string  `json:"summary,omitempty"`
	}
	out := make([]topicView, 0, len(topics))
	for _, t := range topics {
		out = append(out, topicView{ID: t.ID, Title: t.Title, Timestamp: t.TimestampSeconds, Summary: t.Summary})
	}
	return jsonResult(out)
}

type tokenView struct {
	Index   int     `json:"index"`
	Kind    string  `json:"kind"`
	Text    string  `json:"text"`
	Speaker int     `json:"speaker"`
	Start   float64 `json:"start,omitempty"`
	End     float64 `json:"end,omitempty"`
}

func (s *Server) topicTokens(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tokens, res := s.loadTokens(ctx, req)
	if res != nil {
		return res, nil
	}
	out := make([]tokenView, 0, len(tokens))
	for i, t := range tokens {
		out = append(out, tokenView{Index: i, Kind: t.Kind.String(), Text: t.Text, Speaker: t.Speaker, Start: t.Start, End: t.End})
	}
	return jsonResult(out)
}

func (s *Server) resolveSelection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	anchor, err := req.RequireInt("anchor_index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	focus, err := req.RequireInt("focus_index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tokens, res := s.loadTokens(ctx, req)
	if res != nil {
		return res, nil
	}

	r := selection.Resolve(selection.Selection{
		Tokens: tokens,
		Anchor: selection.Position{Index: anchor, Offset: req.GetInt("anchor_offset", 0)},
		Focus:  selection.Position{Index: focus, Offset: req.GetInt("focus_offset", 0)},
	})

	out := struct {
		Kind    string   `json:"kind"`
		Speaker *int     `json:"speaker,omitempty"`
		Start   *float64 `json:"start,omitempty"`
		End     *float64 `json:"end,omitempty"`
	}{Kind: r.Kind.String()}
	switch r.Kind {
	case selection.Speaker:
		out.Speaker = &r.Speaker
	case selection.Slice:
		out.Start, out.End = &r.Slice.Start, &r.Slice.End
	}
	return jsonResult(out)
}

func (s *Server) assignSpeaker(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	topicID, err := req.RequireString("topic_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	start, err := req.RequireFloat("start")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	end, err := req.RequireFloat("end")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	slice := model.TimeSlice{Start: start, End: end}

	var words model.TopicWords
	if pid := req.GetString("participant_id", ""); pid != "" {
		words, err = s.participants.Assign(ctx, sessionID, topicID, model.Participant{ID: pid}, &slice)
	} else {
		speaker, serr := req.RequireInt("speaker")
		if serr != nil {
			return mcp.NewToolResultError("one of participant_id or speaker is required"), nil
		}
		words, err = s.participants.AssignSpeaker(ctx, sessionID, topicID, speaker, &slice)
	}
	if err != nil {
		return s.failed("assign speaker", err), nil
	}
	return jsonResult(words)
}

func (s *Server) listParticipants(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ps, err := s.participants.List(ctx, sessionID)
	if err != nil {
		return s.failed("list participants", err), nil
	}
	if ps == nil {
		ps = []model.Participant{}
	}
	return jsonResult(ps)
}

// loadTokens reads a topic's words and participant names and flattens them.
// A non-nil result is an error to return to the caller.
func (s *Server) loadTokens(ctx context.Context, req mcp.CallToolRequest) ([]selection.Token, *mcp.CallToolResult) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return nil, mcp.NewToolResultError(err.Error())
	}
	topicID, err := req.RequireString("topic_id")
	if err != nil {
		return nil, mcp.NewToolResultError(err.Error())
	}
	words, err := s.participants.Words(ctx, sessionID, topicID)
	if err != nil {
		return nil, s.failed("load words", err)
	}
	ps, err := s.participants.List(ctx, sessionID)
	if err != nil {
		return nil, s.failed("list participants", err)
	}
	return selection.BuildTokens(words.Groups, participant.Labeler(ps)), nil
}

func (s *Server) failed(action string, err error) *mcp.CallToolResult {
	s.log.Warn(action+" failed", logging.Err(err))
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", action, err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
