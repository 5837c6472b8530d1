package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/jwulff/steno-live/internal/model"
)

// Palette, in ANSI 256 codes so it degrades on limited terminals.
var (
	colorAccent = lipgloss.Color("45")
	colorRec    = lipgloss.Color("196")
	colorBusy   = lipgloss.Color("171")
	colorDone   = lipgloss.Color("42")
	colorWarn   = lipgloss.Color("220")
	colorMuted  = lipgloss.Color("244")
	colorRule   = lipgloss.Color("238")
	colorText   = lipgloss.Color("255")
	colorSelect = lipgloss.Color("63")
)

// Text styles.
var (
	TitleStyle     = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	StatusStyle    = lipgloss.NewStyle().Foreground(colorMuted)
	DimStyle       = lipgloss.NewStyle().Foreground(colorMuted)
	TimestampStyle = lipgloss.NewStyle().Foreground(colorMuted)
	DividerStyle   = lipgloss.NewStyle().Foreground(colorRule)
	PlainStyle     = lipgloss.NewStyle()
	ErrorStyle     = lipgloss.NewStyle().Bold(true).Foreground(colorRec)
	ErrorTextStyle = lipgloss.NewStyle().Foreground(colorRec)
	SpinnerStyle   = lipgloss.NewStyle().Foreground(colorBusy)
)

// Panel and transcript styles.
var (
	PanelTitleStyle       = lipgloss.NewStyle().Bold(true).Foreground(colorText)
	PanelTitleActiveStyle = PanelTitleStyle.Foreground(colorAccent)
	SelectedStyle         = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	SpeakerLabelStyle     = SelectedStyle
	HighlightStyle        = lipgloss.NewStyle().Background(colorSelect).Foreground(colorText)
	CursorStyle           = lipgloss.NewStyle().Reverse(true)
	LiveBadgeStyle        = lipgloss.NewStyle().Bold(true).Foreground(colorDone)
	ScrollBadgeStyle      = lipgloss.NewStyle().Bold(true).Foreground(colorWarn)
)

// Waveform styles. Bars left of the playhead are played.
var (
	PlayedStyle   = lipgloss.NewStyle().Foreground(colorDone)
	UnplayedStyle = lipgloss.NewStyle().Foreground(colorMuted)
	MarkerStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorWarn)
	PlayheadStyle = lipgloss.NewStyle().Bold(true).Foreground(colorRec)
)

var (
	footerKeyStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorWarn)
	footerDescStyle = lipgloss.NewStyle().Foreground(colorMuted)
)

type badge struct {
	text  string
	style lipgloss.Style
}

var statusBadges = map[model.Status]badge{
	model.StatusIdle:       {"○ IDLE", lipgloss.NewStyle().Foreground(colorMuted)},
	model.StatusRecording:  {"● REC", lipgloss.NewStyle().Bold(true).Foreground(colorRec)},
	model.StatusProcessing: {"⟳ PROCESSING", lipgloss.NewStyle().Bold(true).Foreground(colorBusy)},
	model.StatusEnded:      {"✓ ENDED", lipgloss.NewStyle().Foreground(colorDone)},
	model.StatusError:      {"✗ ERROR", ErrorStyle},
}

// StatusBadge renders the status indicator for the header bar.
func StatusBadge(s model.Status) string {
	b, ok := statusBadges[s]
	if !ok {
		b = statusBadges[model.StatusIdle]
	}
	return b.style.Render(b.text)
}

// FooterHint renders one "key description" pair for the footer.
func FooterHint(key, desc string) string {
	return footerKeyStyle.Render(key) + footerDescStyle.Render(" "+desc)
}
