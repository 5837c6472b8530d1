package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/jwulff/steno-live/internal/logging"
	"github.com/jwulff/steno-live/internal/model"
	"github.com/jwulff/steno-live/internal/participant"
	"github.com/jwulff/steno-live/internal/selection"
	"github.com/jwulff/steno-live/internal/ui"
	"github.com/jwulff/steno-live/internal/waveform"

	tea "github.com/charmbracelet/bubbletea"
)

// CorrectionConfig wires a Correction model.
type CorrectionConfig struct {
	SessionID string
	Topics    []model.TopicBoundary
	Service   *participant.Service
	// Sync plays selected ranges; optional.
	Sync *waveform.Sync
	Log  logging.Logger
}

// Correction shows one topic's words and reassigns selected ranges to
// participants.
type Correction struct {
	cfg CorrectionConfig
	log logging.Logger

	topicIndex   int
	words        model.TopicWords
	participants []model.Participant
	tokens       []selection.Token

	cursor    selection.Position
	anchor    selection.Position
	hasAnchor bool
	result    selection.Result
	// resultAt is the token index a Speaker result was resolved on.
	resultAt int

	selectedParticipant int

	input     textinput.Model
	inputting bool

	width, height int
	loading       bool
	message       string
	errorMessage  string
}

// NewCorrection creates a Correction model on the first topic.
func NewCorrection(cfg CorrectionConfig) Correction {
	log := cfg.Log
	if log == nil {
		log = logging.NewNopLogger()
	}
	ti := textinput.New()
	ti.Placeholder = "participant name"
	ti.Prompt = "name: "
	ti.CharLimit = 64
	ti.Width = 32
	return Correction{
		cfg:     cfg,
		log:     log.With(logging.F("component", "correct"), logging.F("session_id", cfg.SessionID)),
		input:   ti,
		loading: len(cfg.Topics) > 0,
	}
}

// Init loads the first topic and the participant list.
func (c Correction) Init() tea.Cmd {
	return tea.Batch(c.loadWordsCmd(), c.loadParticipantsCmd())
}

func (c Correction) topic() (model.TopicBoundary, bool) {
	if c.topicIndex < 0 || c.topicIndex >= len(c.cfg.Topics) {
		return model.TopicBoundary{}, false
	}
	return c.cfg.Topics[c.topicIndex], true
}

func (c Correction) loadWordsCmd() tea.Cmd {
	t, ok := c.topic()
	if !ok {
		return nil
	}
	svc, sid := c.cfg.Service, c.cfg.SessionID
	return func() tea.Msg {
		words, err := svc.Words(context.Background(), sid, t.ID)
		return WordsLoadedMsg{Words: words, Err: err}
	}
}

func (c Correction) loadParticipantsCmd() tea.Cmd {
	svc, sid := c.cfg.Service, c.cfg.SessionID
	return func() tea.Msg {
		ps, err := svc.List(context.Background(), sid)
		return ParticipantsLoadedMsg{Participants: ps, Err: err}
	}
}

func (c Correction) assignCmd(p model.Participant, slice model.TimeSlice) tea.Cmd {
	t, _ := c.topic()
	svc, sid := c.cfg.Service, c.cfg.SessionID
	return func() tea.Msg {
		words, err := svc.Assign(context.Background(), sid, t.ID, p, &slice)
		return WordsLoadedMsg{Words: words, Err: err}
	}
}

func (c Correction) createCmd(name string) tea.Cmd {
	svc, sid := c.cfg.Service, c.cfg.SessionID
	speaker, bind := c.result.Speaker, c.result.Kind == selection.Speaker
	return func() tea.Msg {
		var ps []model.Participant
		var err error
		if bind {
			ps, err = svc.CreateForSpeaker(context.Background(), sid, name, speaker)
		} else {
			ps, err = svc.Create(context.Background(), sid, name)
		}
		return ParticipantsLoadedMsg{Participants: ps, Err: err}
	}
}

func (c Correction) deleteCmd(id string) tea.Cmd {
	svc, sid := c.cfg.Service, c.cfg.SessionID
	return func() tea.Msg {
		ps, err := svc.Delete(context.Background(), sid, id)
		return ParticipantsLoadedMsg{Participants: ps, Err: err}
	}
}

// Update processes messages.
func (c Correction) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if c.inputting {
			return c.handleInput(msg)
		}
		return c.handleKey(msg)

	case tea.WindowSizeMsg:
		c.width = msg.Width
		c.height = msg.Height
		return c, nil

	case WordsLoadedMsg:
		c.loading = false
		if msg.Err != nil {
			c.log.Warn("word load failed", logging.Err(msg.Err))
			c.errorMessage = msg.Err.Error()
			return c, nil
		}
		c.errorMessage = ""
		c.words = msg.Words
		c.rebuild()
		c.clearSelection()
		return c, nil

	case ParticipantsLoadedMsg:
		if msg.Err != nil {
			c.log.Warn("participant update failed", logging.Err(msg.Err))
			c.errorMessage = msg.Err.Error()
			return c, nil
		}
		c.errorMessage = ""
		c.participants = msg.Participants
		if c.selectedParticipant >= len(c.participants) {
			c.selectedParticipant = max(0, len(c.participants)-1)
		}
		c.rebuild()
		return c, nil
	}

	if c.inputting {
		var cmd tea.Cmd
		c.input, cmd = c.input.Update(msg)
		return c, cmd
	}
	return c, nil
}

// rebuild re-renders tokens from the current words and participant names.
func (c *Correction) rebuild() {
	c.tokens = selection.BuildTokens(c.words.Groups, participant.Labeler(c.participants))
	if c.cursor.Index >= len(c.tokens) {
		c.cursor = selection.Position{Index: max(0, len(c.tokens)-1)}
	}
}

func (c *Correction) clearSelection() {
	c.hasAnchor = false
	c.result = selection.Result{}
	c.message = ""
}

func (c Correction) handleInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyEsc:
		c.inputting = false
		c.input.Blur()
		c.input.Reset()
		return c, nil
	case KeyEnter:
		name := strings.TrimSpace(c.input.Value())
		c.inputting = false
		c.input.Blur()
		c.input.Reset()
		if name == "" {
			return c, nil
		}
		return c, c.createCmd(name)
	}
	var cmd tea.Cmd
	c.input, cmd = c.input.Update(msg)
	return c, cmd
}

func (c Correction) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		if c.cfg.Sync != nil {
			c.cfg.Sync.CancelAutoStop()
		}
		return c, tea.Quit

	case KeyCharLeft, KeyLeft:
		c.cursor = selection.Left(c.tokens, c.cursor)
	case KeyCharRight, KeyRight:
		c.cursor = selection.Right(c.tokens, c.cursor)
	case KeyNextWord:
		c.cursor = selection.NextToken(c.tokens, c.cursor)
	case KeyPrevWord:
		c.cursor = selection.PrevToken(c.tokens, c.cursor)
	case KeyEndOfWord:
		c.cursor = selection.EndOfToken(c.tokens, c.cursor)

	case KeyAnchor:
		c.anchor = c.cursor
		c.hasAnchor = true
		c.result = selection.Result{}
		c.message = "anchor set"

	case KeyEsc:
		c.clearSelection()

	case KeyEnter:
		c.resolve()

	case KeyPlay:
		return c.play()

	case KeyUp:
		if c.selectedParticipant > 0 {
			c.selectedParticipant--
		}
	case KeyDown:
		if c.selectedParticipant < len(c.participants)-1 {
			c.selectedParticipant++
		}

	case KeyAddPerson:
		c.inputting = true
		cmd := c.input.Focus()
		return c, cmd

	case KeyDelPerson:
		if c.selectedParticipant < len(c.participants) {
			return c, c.deleteCmd(c.participants[c.selectedParticipant].ID)
		}

	case KeyPrevTopic, KeyNextTopic:
		next := c.topicIndex + 1
		if key == KeyPrevTopic {
			next = c.topicIndex - 1
		}
		if next < 0 || next >= len(c.cfg.Topics) {
			return c, nil
		}
		c.topicIndex = next
		c.cursor = selection.Position{}
		c.clearSelection()
		c.loading = true
		return c, c.loadWordsCmd()

	default:
		if n, err := strconv.Atoi(key); err == nil && n >= 1 && n <= 9 {
			return c.assign(n - 1)
		}
	}
	return c, nil
}

// resolve turns anchor..cursor into a result.
func (c *Correction) resolve() {
	if !c.hasAnchor {
		c.message = "press v to set an anchor first"
		return
	}
	c.result = selection.Resolve(selection.Selection{Tokens: c.tokens, Anchor: c.anchor, Focus: c.cursor})
	c.resultAt = c.anchor.Index
	c.hasAnchor = false
	switch c.result.Kind {
	case selection.Slice:
		c.message = fmt.Sprintf("selected %.2fs - %.2fs", c.result.Slice.Start, c.result.Slice.End)
	case selection.Speaker:
		c.message = "selected " + participant.Labeler(c.participants)(c.result.Speaker)
	default:
		c.message = "nothing selected"
	}
}

// resultSlice is the audio range the current result covers. A speaker
// result covers that speaker's whole group.
func (c Correction) resultSlice() (model.TimeSlice, bool) {
	switch c.result.Kind {
	case selection.Slice:
		return c.result.Slice, true
	case selection.Speaker:
		return selection.GroupRange(c.tokens, c.resultAt)
	}
	return model.TimeSlice{}, false
}

func (c Correction) play() (tea.Model, tea.Cmd) {
	if c.cfg.Sync == nil {
		c.message = "no audio loaded"
		return c, nil
	}
	slice, ok := c.resultSlice()
	if !ok {
		c.message = "select a range first"
		return c, nil
	}
	if err := c.cfg.Sync.PlayRange(slice); err != nil {
		c.errorMessage = err.Error()
		return c, nil
	}
	c.message = fmt.Sprintf("playing %.2fs - %.2fs", slice.Start, slice.End)
	return c, nil
}

func (c Correction) assign(i int) (tea.Model, tea.Cmd) {
	if i >= len(c.participants) {
		c.message = fmt.Sprintf("no participant %d", i+1)
		return c, nil
	}
	slice, ok := c.resultSlice()
	if !ok {
		c.message = "select a range first"
		return c, nil
	}
	p := c.participants[i]
	c.loading = true
	c.message = fmt.Sprintf("assigning to %s...", p.Name)
	return c, c.assignCmd(p, slice)
}

// View renders the correction screen.
func (c Correction) View() string {
	width := c.width
	if width == 0 {
		width = 80
	}

	var sections []string
	header := ui.TitleStyle.Render("CORRECT")
	if t, ok := c.topic(); ok {
		header += ui.DimStyle.Render(fmt.Sprintf(" - %s (%d/%d)", t.Title, c.topicIndex+1, len(c.cfg.Topics)))
	}
	sections = append(sections, header)
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", width)))

	switch {
	case len(c.cfg.Topics) == 0:
		sections = append(sections, ui.DimStyle.Render("  This session has no topics yet."))
	case c.loading && len(c.tokens) == 0:
		sections = append(sections, ui.DimStyle.Render("  Loading words..."))
	default:
		sections = append(sections, c.renderWords())
	}

	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", width)))
	sections = append(sections, c.renderParticipants())
	if c.inputting {
		sections = append(sections, c.input.View())
	}
	if c.message != "" {
		sections = append(sections, ui.StatusStyle.Render(c.message))
	}
	if c.errorMessage != "" {
		sections = append(sections, ui.ErrorStyle.Render("Error: ")+ui.ErrorTextStyle.Render(c.errorMessage))
	}
	sections = append(sections, c.renderFooter())
	return strings.Join(sections, "\n")
}

// inResult reports whether tok lies inside the resolved range.
func (c Correction) inResult(tok selection.Token) bool {
	slice, ok := c.resultSlice()
	if !ok {
		return false
	}
	if tok.Kind == selection.KindSpeaker {
		return c.result.Kind == selection.Speaker && tok.Group == c.tokens[c.resultAt].Group
	}
	return tok.Start >= slice.Start && tok.End <= slice.End
}

// renderWords draws one line per speaker group with the cursor reversed.
// While an anchor is set the raw anchor..cursor span is highlighted; after
// resolving, the words the result covers are.
func (c Correction) renderWords() string {
	lo, hi := c.cursor, c.cursor
	if c.hasAnchor {
		lo, hi = c.anchor, c.cursor
		if selection.Compare(lo, hi) > 0 {
			lo, hi = hi, lo
		}
	}

	var lines []string
	var line strings.Builder
	for i, tok := range c.tokens {
		if tok.Kind == selection.KindSpeaker {
			if line.Len() > 0 {
				lines = append(lines, line.String())
				line.Reset()
			}
		} else {
			line.WriteByte(' ')
		}

		resolved := !c.hasAnchor && c.inResult(tok)
		runes := []rune(tok.Text)
		for off := 0; off <= len(runes); off++ {
			pos := selection.Position{Index: i, Offset: off}
			ch := " "
			if off < len(runes) {
				ch = string(runes[off])
			} else if pos != c.cursor {
				continue
			}
			style := ui.PlainStyle
			if tok.Kind == selection.KindSpeaker {
				style = ui.SpeakerLabelStyle
			}
			switch {
			case pos == c.cursor:
				style = ui.CursorStyle
			case c.hasAnchor && selection.Compare(pos, lo) >= 0 && selection.Compare(pos, hi) < 0:
				style = ui.HighlightStyle
			case resolved && off < len(runes):
				style = ui.HighlightStyle
			}
			line.WriteString(style.Render(ch))
		}
		if tok.Kind == selection.KindSpeaker {
			line.WriteString(ui.SpeakerLabelStyle.Render(":"))
		}
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	if len(lines) == 0 {
		return ui.DimStyle.Render("  No words in this topic.")
	}
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}

func (c Correction) renderParticipants() string {
	title := ui.PanelTitleStyle.Render(fmt.Sprintf("PARTICIPANTS (%d)", len(c.participants)))
	lines := []string{title}
	if len(c.participants) == 0 {
		lines = append(lines, ui.DimStyle.Render("  none yet, press n to add"))
	}
	for i, p := range c.participants {
		line := fmt.Sprintf("%d. %s (speaker %d)", i+1, p.Name, p.Speaker)
		if i == c.selectedParticipant {
			lines = append(lines, ui.SelectedStyle.Render("> "+line))
		} else {
			lines = append(lines, "  "+line)
		}
	}
	return strings.Join(lines, "\n")
}

func (c Correction) renderFooter() string {
	parts := []string{
		ui.FooterHint("h/l w/b e", "Move"),
		ui.FooterHint("v", "Anchor"),
		ui.FooterHint("Enter", "Resolve"),
		ui.FooterHint("p", "Play"),
		ui.FooterHint("1-9", "Assign"),
		ui.FooterHint("n", "Add"),
		ui.FooterHint("x", "Remove"),
		ui.FooterHint("[ ]", "Topic"),
		ui.FooterHint("q", "Quit"),
	}
	return strings.Join(parts, "  ")
}
