package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jwulff/steno-live/internal/channel"
	slerrors "github.com/jwulff/steno-live/internal/errors"
	"github.com/jwulff/steno-live/internal/logging"
	"github.com/jwulff/steno-live/internal/model"
	"github.com/jwulff/steno-live/internal/playback"
	"github.com/jwulff/steno-live/internal/session"
	"github.com/jwulff/steno-live/internal/ui"
	"github.com/jwulff/steno-live/internal/upload"
	"github.com/jwulff/steno-live/internal/waveform"

	tea "github.com/charmbracelet/bubbletea"
)

// EventSource is an open push channel.
type EventSource interface {
	Events() <-chan channel.Event
	Close() error
}

// Recorder starts and stops capture for the session.
type Recorder interface {
	Record(ctx context.Context, deviceID, secondDeviceID string) error
	Stop(ctx context.Context) error
	// Active reports whether capture still holds resources, whatever the
	// session status.
	Active() bool
}

// observerTracker is a Recorder that cancels playback observers on stop.
type observerTracker interface {
	Track(sub waveform.Subscription)
}

// Cache persists what the live view receives.
type Cache interface {
	SetStatus(sessionID string, status model.Status) error
	SetDuration(sessionID string, ms int64) error
	ReplaceTopics(sessionID string, topics []model.TopicBoundary) error
}

// AudioPlayer is a waveform player that holds resources.
type AudioPlayer interface {
	waveform.Player
	Close() error
}

// Config wires a live Model.
type Config struct {
	SessionID      string
	SessionName    string
	DeviceID       string
	SecondDeviceID string

	Machine *session.Machine
	// Recorder is nil when only watching a session.
	Recorder Recorder
	Dial     func(ctx context.Context) (EventSource, error)
	// Cache is optional.
	Cache Cache
	// LoadAudio is called once the session ends; optional.
	LoadAudio func(ctx context.Context) (AudioPlayer, error)
	// Snapshot fetches existing server state when the view opens; optional.
	Snapshot func(ctx context.Context) (Snapshot, error)
	Log      logging.Logger
}

// Snapshot is server state that predates the push channel.
type Snapshot struct {
	Topics   []model.TopicBoundary
	Waveform *model.Waveform
}

// PanelFocus tracks which panel has keyboard focus.
type PanelFocus int

const (
	FocusTopics PanelFocus = iota
	FocusTranscript
)

// TranscriptEntry is a received transcript chunk for display.
type TranscriptEntry struct {
	Text      string
	Timestamp time.Time
}

// TopicDisplay holds a topic for display in the topic panel.
type TopicDisplay struct {
	model.TopicBoundary
	Expanded bool
}

// Model is the live view of one session.
type Model struct {
	cfg Config
	log logging.Logger

	// Connection state
	source       EventSource
	connected    bool
	connError    string
	reconnecting bool

	// Transcript
	entries []TranscriptEntry

	// Topics
	topics        []TopicDisplay
	selectedTopic int

	// Waveform and playback
	player   AudioPlayer
	sync     *waveform.Sync
	samples  []float64
	duration float64

	// Upload progress in spool and upload modes
	progress *upload.Progress

	// UI state
	focusedPanel     PanelFocus
	width            int
	height           int
	transcriptScroll int
	transcriptLive   bool

	// Errors
	errorMessage   string
	errorTransient bool

	statusText string
	quitting   bool
}

// New creates a live Model. Until audio is loaded the waveform follows a
// silent clock.
func New(cfg Config) Model {
	log := cfg.Log
	if log == nil {
		log = logging.NewNopLogger()
	}
	if cfg.Machine == nil {
		cfg.Machine = session.New(log, nil)
	}
	player := AudioPlayer(playback.NewClock(0))
	sync := waveform.New(player, log)
	if t, ok := cfg.Recorder.(observerTracker); ok {
		t.Track(sync.StopHandle())
	}
	return Model{
		cfg:            cfg,
		log:            log.With(logging.F("component", "tui"), logging.F("session_id", cfg.SessionID)),
		player:         player,
		sync:           sync,
		statusText:     "Connecting...",
		transcriptLive: true,
		focusedPanel:   FocusTranscript,
	}
}

// Init dials the push channel and starts the playhead refresh.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.dialCmd(), playheadTickCmd()}
	if m.cfg.Snapshot != nil {
		cmds = append(cmds, m.snapshotCmd())
	}
	return tea.Batch(cmds...)
}

func (m Model) snapshotCmd() tea.Cmd {
	load := m.cfg.Snapshot
	return func() tea.Msg {
		snap, err := load(context.Background())
		return SnapshotLoadedMsg{Snapshot: snap, Err: err}
	}
}

func (m Model) dialCmd() tea.Cmd {
	dial := m.cfg.Dial
	return func() tea.Msg {
		if dial == nil {
			return ChannelConnectErrorMsg{Err: errors.New("no channel configured")}
		}
		src, err := dial(context.Background())
		if err != nil {
			return ChannelConnectErrorMsg{Err: err}
		}
		return ChannelConnectedMsg{Source: src}
	}
}

// readEventCmd reads the next event from the channel.
func readEventCmd(events <-chan channel.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return channelClosedMsg{}
		}
		return ChannelEventMsg{Event: ev}
	}
}

func (m Model) recordCmd() tea.Cmd {
	rec, dev, second := m.cfg.Recorder, m.cfg.DeviceID, m.cfg.SecondDeviceID
	return func() tea.Msg {
		return RecordResultMsg{Err: rec.Record(context.Background(), dev, second)}
	}
}

func (m Model) stopCmd() tea.Cmd {
	rec := m.cfg.Recorder
	return func() tea.Msg {
		return StopResultMsg{Err: rec.Stop(context.Background())}
	}
}

func (m Model) loadAudioCmd() tea.Cmd {
	load := m.cfg.LoadAudio
	return func() tea.Msg {
		p, err := load(context.Background())
		return AudioLoadedMsg{Player: p, Err: err}
	}
}

// persistCmd writes to the cache off the update loop.
func (m Model) persistCmd(write func(Cache) error) tea.Cmd {
	cache, log := m.cfg.Cache, m.log
	if cache == nil {
		return nil
	}
	return func() tea.Msg {
		if err := write(cache); err != nil {
			log.Warn("cache write failed", logging.Err(err))
		}
		return nil
	}
}

// teardownCmd stops capture if running and releases the channel and player.
func (m Model) teardownCmd() tea.Cmd {
	rec, src, player := m.cfg.Recorder, m.source, m.player
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if rec != nil && rec.Active() {
			_ = rec.Stop(ctx)
		}
		if src != nil {
			_ = src.Close()
		}
		if player != nil {
			_ = player.Close()
		}
		return nil
	}
}

// clearTransientErrorCmd fires after a delay to clear transient errors.
func clearTransientErrorCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{}
	})
}

// reconnectCmd schedules a reconnection attempt after delay.
func reconnectCmd(delay time.Duration) tea.Cmd {
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return ReconnectTickMsg{}
	})
}

func playheadTickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(time.Time) tea.Msg {
		return PlayheadTickMsg{}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case ChannelConnectedMsg:
		m.source = msg.Source
		m.connected = true
		m.connError = ""
		if m.reconnecting {
			m.cfg.Machine.ResetReconnect()
		}
		m.reconnecting = false
		m.statusText = "Connected"
		return m, readEventCmd(m.source.Events())

	case ChannelConnectErrorMsg:
		m.connected = false
		m.connError = msg.Err.Error()
		if errors.Is(msg.Err, slerrors.ErrPermissionDenied) {
			_ = m.cfg.Machine.Fail(msg.Err)
			m.errorMessage = msg.Err.Error()
			return m, m.persistStatus()
		}
		return m.disconnected(msg.Err)

	case ChannelEventMsg:
		if d, ok := msg.Event.(channel.Disconnected); ok {
			m.connected = false
			m.source = nil
			if m.quitting || channel.IsClientClose(d.Reason) {
				return m, nil
			}
			return m.disconnected(d.Reason)
		}
		cmd := m.handleEvent(msg.Event)
		return m, tea.Batch(cmd, readEventCmd(m.source.Events()))

	case channelClosedMsg:
		return m, nil

	case ReconnectTickMsg:
		m.statusText = "Reconnecting..."
		return m, m.dialCmd()

	case RecordResultMsg:
		if msg.Err != nil {
			m.errorMessage = msg.Err.Error()
		} else {
			m.statusText = "Recording"
			m.progress = nil
		}
		return m, m.persistStatus()

	case StopResultMsg:
		if msg.Err != nil {
			m.errorMessage = msg.Err.Error()
		} else {
			m.statusText = "Processing"
		}
		return m, m.persistStatus()

	case UploadProgressMsg:
		p := msg.Progress
		m.progress = &p
		return m, nil

	case AudioLoadedMsg:
		if msg.Err != nil {
			m.errorMessage = "audio: " + msg.Err.Error()
			m.errorTransient = true
			return m, clearTransientErrorCmd()
		}
		m.swapPlayer(msg.Player)
		return m, nil

	case SnapshotLoadedMsg:
		return m.applySnapshot(msg)

	case PlayheadTickMsg:
		if m.quitting {
			return m, nil
		}
		return m, playheadTickCmd()

	case ClearTransientErrorMsg:
		if m.errorTransient {
			m.errorMessage = ""
			m.errorTransient = false
		}
		return m, nil
	}

	return m, nil
}

// applySnapshot fills in topics and waveform that the channel has not
// delivered yet. An ended session also gets its audio.
func (m Model) applySnapshot(msg SnapshotLoadedMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		m.log.Warn("snapshot load failed", logging.Err(msg.Err))
		m.errorMessage = msg.Err.Error()
		m.errorTransient = true
		return m, clearTransientErrorCmd()
	}
	var cmds []tea.Cmd
	if snap := msg.Snapshot; len(snap.Topics) > 0 && len(m.topics) == 0 {
		cmds = append(cmds, m.handleEvent(channel.TopicsUpdated{Topics: snap.Topics}))
	}
	if w := msg.Snapshot.Waveform; w != nil && len(m.samples) == 0 {
		cmds = append(cmds, m.handleEvent(channel.WaveformReady{Samples: w.Samples, DurationSeconds: w.DurationSeconds}))
	}
	if m.cfg.Machine.Status() == model.StatusEnded && m.cfg.LoadAudio != nil {
		cmds = append(cmds, m.loadAudioCmd())
	}
	return m, tea.Batch(cmds...)
}

// disconnected asks the state machine what a dropped channel means.
func (m Model) disconnected(reason error) (tea.Model, tea.Cmd) {
	d := m.cfg.Machine.HandleDisconnect(reason)
	switch d.Action {
	case session.Reconnect:
		m.reconnecting = true
		m.statusText = fmt.Sprintf("Disconnected. Reconnecting in %s (attempt %d/%d)...",
			d.Delay, d.Attempt, session.MaxReconnectAttempts)
		return m, reconnectCmd(d.Delay)
	case session.Failed:
		m.reconnecting = false
		m.statusText = "Disconnected"
		if reason != nil {
			m.errorMessage = reason.Error()
		}
		return m, m.persistStatus()
	}
	return m, nil
}

// handleEvent applies one pushed event and returns any resulting command.
func (m *Model) handleEvent(ev channel.Event) tea.Cmd {
	id := m.cfg.SessionID
	switch ev := ev.(type) {
	case channel.TranscriptDelta:
		m.entries = append(m.entries, TranscriptEntry{Text: ev.Text, Timestamp: time.Now()})
		if m.transcriptLive {
			m.scrollToBottom()
		}

	case channel.TopicsUpdated:
		m.setTopics(ev.Topics)
		topics := ev.Topics
		return m.persistCmd(func(c Cache) error { return c.ReplaceTopics(id, topics) })

	case channel.WaveformReady:
		m.samples = ev.Samples
		if ev.DurationSeconds > 0 {
			m.duration = ev.DurationSeconds
		}
		m.sync.Render(m.samples, m.duration)
		if clock, ok := m.player.(*playback.Clock); ok {
			clock.SetDuration(m.duration)
		}
		if m.duration > 0 {
			ms := int64(m.duration * 1000)
			return m.persistCmd(func(c Cache) error { return c.SetDuration(id, ms) })
		}

	case channel.StatusChanged:
		if err := m.cfg.Machine.ApplyServerStatus(ev.Status); err != nil {
			m.log.Warn("ignoring server status", logging.F("status", string(ev.Status)), logging.Err(err))
			return nil
		}
		m.statusText = statusLabel(m.cfg.Machine.Status())
		cmds := []tea.Cmd{m.persistStatus()}
		switch ev.Status {
		case model.StatusError:
			m.errorMessage = "server reported an error for this session"
		case model.StatusEnded:
			if m.cfg.LoadAudio != nil {
				cmds = append(cmds, m.loadAudioCmd())
			}
		}
		return tea.Batch(cmds...)
	}

	return nil
}

func (m Model) persistStatus() tea.Cmd {
	id, status := m.cfg.SessionID, m.cfg.Machine.Status()
	return m.persistCmd(func(c Cache) error { return c.SetStatus(id, status) })
}

// setTopics replaces the topic list, keeping expansion and selection by id.
func (m *Model) setTopics(topics []model.TopicBoundary) {
	expanded := map[string]bool{}
	selectedID := ""
	for i, t := range m.topics {
		expanded[t.ID] = t.Expanded
		if i == m.selectedTopic {
			selectedID = t.ID
		}
	}
	m.topics = m.topics[:0]
	for i, t := range topics {
		m.topics = append(m.topics, TopicDisplay{TopicBoundary: t, Expanded: expanded[t.ID]})
		if t.ID == selectedID {
			m.selectedTopic = i
		}
	}
	if m.selectedTopic >= len(m.topics) {
		m.selectedTopic = max(0, len(m.topics)-1)
	}
	m.sync.PlaceMarkers(topics)
}

// swapPlayer replaces the silent clock with real audio, keeping the
// rendered waveform and markers.
func (m *Model) swapPlayer(p AudioPlayer) {
	old := m.player
	m.player = p
	m.sync.SetPlayer(p)
	if old != nil {
		_ = old.Close()
	}
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		m.quitting = true
		m.sync.CancelAutoStop()
		return m, tea.Sequence(m.teardownCmd(), tea.Quit)

	case KeySpace:
		if m.cfg.Recorder == nil {
			return m, nil
		}
		switch m.cfg.Machine.Status() {
		case model.StatusIdle:
			m.statusText = "Starting..."
			return m, m.recordCmd()
		case model.StatusRecording:
			m.statusText = "Stopping..."
			m.sync.CancelAutoStop()
			return m, m.stopCmd()
		}
		return m, nil

	case KeyTab:
		if m.focusedPanel == FocusTopics {
			m.focusedPanel = FocusTranscript
		} else {
			m.focusedPanel = FocusTopics
		}
		return m, nil

	case KeyJ:
		if m.focusedPanel == FocusTopics && len(m.topics) > 0 {
			if m.selectedTopic < len(m.topics)-1 {
				m.selectedTopic++
			}
		}
		return m, nil

	case KeyK:
		if m.focusedPanel == FocusTopics && len(m.topics) > 0 {
			if m.selectedTopic > 0 {
				m.selectedTopic--
			}
		}
		return m, nil

	case KeyEnter:
		if m.focusedPanel == FocusTopics && m.selectedTopic < len(m.topics) {
			t := &m.topics[m.selectedTopic]
			t.Expanded = !t.Expanded
			m.sync.JumpTo(t.TopicBoundary)
		}
		return m, nil

	case KeyPlay:
		if m.player.Playing() {
			m.player.Pause()
		} else {
			m.sync.PlayFrom(m.player.Position())
		}
		return m, nil

	case KeyUp:
		if m.focusedPanel == FocusTranscript {
			m.transcriptLive = false
			if m.transcriptScroll > 0 {
				m.transcriptScroll--
			}
		}
		return m, nil

	case KeyDown:
		if m.focusedPanel == FocusTranscript {
			maxScroll := m.maxTranscriptScroll()
			m.transcriptScroll++
			if m.transcriptScroll >= maxScroll {
				m.transcriptScroll = maxScroll
				m.transcriptLive = true
			}
		}
		return m, nil
	}

	return m, nil
}

func statusLabel(s model.Status) string {
	switch s {
	case model.StatusIdle:
		return "Idle"
	case model.StatusRecording:
		return "Recording"
	case model.StatusProcessing:
		return "Processing"
	case model.StatusEnded:
		return "Ended"
	case model.StatusError:
		return "Error"
	}
	return string(s)
}

func (m *Model) scrollToBottom() {
	m.transcriptScroll = m.maxTranscriptScroll()
}

func (m Model) maxTranscriptScroll() int {
	totalLines := len(m.entries)
	visible := m.transcriptVisibleLines()
	if totalLines <= visible {
		return 0
	}
	return totalLines - visible
}

func (m Model) transcriptVisibleLines() int {
	if m.height == 0 {
		return 20
	}
	// header(1) + status(1) + waveform(2) + dividers(2) + error(1) + footer(1) + padding
	reserved := 10
	return max(5, m.height-reserved)
}

func (m Model) topicPanelWidth() int {
	if m.width == 0 {
		return 30
	}
	return max(20, m.width*30/100)
}

func (m Model) transcriptPanelWidth() int {
	if m.width == 0 {
		return 60
	}
	return max(30, m.width-m.topicPanelWidth()-3)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, m.renderWaveform())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderMainContent())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))
	if m.errorMessage != "" {
		sections = append(sections, m.renderErrorBar())
	}
	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := ui.TitleStyle.Render("STENO LIVE")
	name := m.cfg.SessionName
	if name == "" {
		name = m.cfg.SessionID
	}
	var info string
	if name != "" {
		info = ui.DimStyle.Render(" - " + name)
	}
	var device string
	if m.cfg.DeviceID != "" {
		device = ui.DimStyle.Render(" [" + m.cfg.DeviceID + "]")
	}
	return title + info + device
}

func (m Model) renderStatusBar() string {
	dot := ui.StatusBadge(m.cfg.Machine.Status())

	var progress string
	if m.progress != nil {
		progress = "  " + ui.SpinnerStyle.Render(fmt.Sprintf("↑ %.0f%%", m.progress.Percent))
	}

	var position string
	if d := m.sync.Duration(); d > 0 {
		position = "  " + ui.TimestampStyle.Render(fmt.Sprintf("%s / %s",
			formatSeconds(m.player.Position()), formatSeconds(d)))
	}

	return dot + progress + position + "  " + ui.StatusStyle.Render(m.statusText)
}

func (m Model) renderWaveform() string {
	cols := m.sync.Columns(m.width)
	markers := m.sync.Markers()
	markerCols := make([]int, 0, len(markers))
	for _, mk := range markers {
		markerCols = append(markerCols, waveform.ColumnOf(mk.X, len(cols)))
	}
	return ui.RenderWaveform(ui.Waveform{
		Columns: cols,
		Markers: markerCols,
		Cursor:  m.sync.CursorColumn(len(cols)),
	})
}

func (m Model) renderMainContent() string {
	topicW := m.topicPanelWidth()
	transcriptW := m.transcriptPanelWidth()
	contentH := m.transcriptVisibleLines()

	topicLines := strings.Split(m.renderTopicPanel(topicW, contentH), "\n")
	transcriptLines := strings.Split(m.renderTranscriptPanel(transcriptW, contentH), "\n")
	divider := ui.DividerStyle.Render("│")

	for len(topicLines) < contentH {
		topicLines = append(topicLines, strings.Repeat(" ", topicW))
	}
	for len(transcriptLines) < contentH {
		transcriptLines = append(transcriptLines, "")
	}

	rows := make([]string, 0, contentH)
	for i := 0; i < contentH; i++ {
		rows = append(rows, topicLines[i]+divider+transcriptLines[i])
	}
	return strings.Join(rows, "\n")
}

func (m Model) renderTopicPanel(width, height int) string {
	title := fmt.Sprintf("TOPICS (%d)", len(m.topics))
	var header string
	if m.focusedPanel == FocusTopics {
		header = ui.PanelTitleActiveStyle.Render(title)
	} else {
		header = ui.PanelTitleStyle.Render(title)
	}

	lines := []string{padRight(header, width)}

	if len(m.topics) == 0 {
		lines = append(lines, ui.DimStyle.Render("  No topics yet..."))
		lines = append(lines, ui.DimStyle.Render("  Topics appear as the server finds them"))
	} else {
		for i, topic := range m.topics {
			expandMarker := "▸"
			if topic.Expanded {
				expandMarker = "▾"
			}
			label := formatSeconds(topic.TimestampSeconds) + " " + topic.Title

			var line string
			if i == m.selectedTopic && m.focusedPanel == FocusTopics {
				line = ui.SelectedStyle.Render("> " + expandMarker + " " + label)
			} else {
				line = "  " + expandMarker + " " + label
			}
			lines = append(lines, truncateToWidth(line, width))

			if topic.Expanded {
				body := topic.Summary
				if body == "" {
					body = topic.Text
				}
				for _, wl := range wrapText(body, max(10, width-6)) {
					lines = append(lines, ui.DimStyle.Render("    "+wl))
				}
			}
		}
	}

	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	for i, l := range lines {
		lines[i] = padRight(l, width)
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderTranscriptPanel(width, height int) string {
	var badge string
	if m.transcriptLive {
		badge = ui.LiveBadgeStyle.Render(" LIVE")
	} else {
		badge = ui.ScrollBadgeStyle.Render(" SCROLL")
	}
	var header string
	if m.focusedPanel == FocusTranscript {
		header = ui.PanelTitleActiveStyle.Render("TRANSCRIPT") + badge
	} else {
		header = ui.PanelTitleStyle.Render("TRANSCRIPT") + badge
	}

	lines := []string{header}
	contentHeight := height - 1

	switch {
	case !m.connected && m.reconnecting:
		lines = append(lines, "", ui.ErrorTextStyle.Render("  Channel dropped. Reconnecting..."))
	case !m.connected && m.connError != "":
		lines = append(lines, "", ui.ErrorStyle.Render("  Cannot reach the server."))
	case !m.connected && len(m.entries) == 0:
		lines = append(lines, ui.DimStyle.Render("  Connecting..."))
	case len(m.entries) == 0:
		lines = append(lines, "")
		if m.cfg.Recorder != nil && m.cfg.Machine.Status() == model.StatusIdle {
			lines = append(lines, ui.DimStyle.Render("  Press Space to start recording"))
		} else {
			lines = append(lines, ui.DimStyle.Render("  Waiting for transcript..."))
		}
	default:
		// "  [HH:MM:SS] " prefix
		prefixWidth := 11
		textWidth := max(10, width-prefixWidth-2)
		indent := strings.Repeat(" ", prefixWidth)

		var display []string
		for _, e := range m.entries {
			ts := ui.TimestampStyle.Render(e.Timestamp.Format("[15:04:05]"))
			wrapped := wrapText(e.Text, textWidth)
			display = append(display, ts+" "+wrapped[0])
			for _, wl := range wrapped[1:] {
				display = append(display, indent+wl)
			}
		}

		start := 0
		if m.transcriptLive {
			if len(display) > contentHeight {
				start = len(display) - contentHeight
			}
		} else {
			start = max(0, m.transcriptScroll)
		}
		end := min(start+contentHeight, len(display))
		for i := start; i < end; i++ {
			lines = append(lines, "  "+display[i])
		}
	}

	for len(lines) < height {
		lines = append(lines, "")
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderErrorBar() string {
	return ui.ErrorStyle.Render("Error: ") + ui.ErrorTextStyle.Render(m.errorMessage)
}

func (m Model) renderFooter() string {
	var parts []string

	if m.cfg.Recorder != nil {
		switch m.cfg.Machine.Status() {
		case model.StatusIdle:
			parts = append(parts, ui.FooterHint("Space", "Record"))
		case model.StatusRecording:
			parts = append(parts, ui.FooterHint("Space", "Stop"))
		}
	}
	parts = append(parts, ui.FooterHint("p", "Play/Pause"))
	parts = append(parts, ui.FooterHint("Tab", "Focus"))
	parts = append(parts, ui.FooterHint("j/k", "Nav"))
	parts = append(parts, ui.FooterHint("Enter", "Jump"))
	parts = append(parts, ui.FooterHint("↑↓", "Scroll"))
	parts = append(parts, ui.FooterHint("q", "Quit"))

	return strings.Join(parts, "  ")
}

// Helpers

func formatSeconds(s float64) string {
	total := int(s)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func padRight(s string, width int) string {
	// Visible length ignoring ANSI codes.
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}

func truncateToWidth(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	if len(runes) > width-1 {
		return string(runes[:width-1]) + "…"
	}
	return s
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var current string
		for _, word := range strings.Fields(paragraph) {
			if current == "" {
				current = word
			} else if len(current)+1+len(word) <= width {
				current += " " + word
			} else {
				lines = append(lines, current)
				current = word
			}
		}
		lines = append(lines, current)
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
