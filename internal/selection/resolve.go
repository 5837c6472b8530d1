// Package selection converts a text selection over a rendered transcript
// into a speaker label or an audio time slice.
//
// The transcript is modelled as a flat token list: each speaker group
// contributes its label token followed by its word tokens. A Position is a
// character offset inside one token. An offset equal to a word's length
// means the position sits in the gap after that word.
package selection

import (
	"strconv"

	"github.com/jwulff/steno-live/internal/model"
)

// Fallback times used when a boundary runs off either end of the
// transcript. They are not real timestamps.
const (
	ForwardFallback = 9999999999999
	ReverseFallback = 0
)

// TokenKind distinguishes speaker labels from words.
type TokenKind int

const (
	KindWord TokenKind = iota
	KindSpeaker
)

func (k TokenKind) String() string {
	if k == KindSpeaker {
		return "speaker"
	}
	return "word"
}

// Token is one rendered element of the transcript.
type Token struct {
	Kind    TokenKind
	Text    string
	Start   float64
	End     float64
	Speaker int
	// Group is the index of the speaker group the token belongs to.
	Group int
}

// Position is a point inside the token list.
type Position struct {
	Index  int
	Offset int
}

// Selection is an anchor (where the drag started) and a focus (where it
// ended). Focus may precede Anchor.
type Selection struct {
	Tokens []Token
	Anchor Position
	Focus  Position
}

// ResultKind says what Resolve produced.
type ResultKind int

const (
	None ResultKind = iota
	Speaker
	Slice
)

func (k ResultKind) String() string {
	switch k {
	case Speaker:
		return "speaker"
	case Slice:
		return "slice"
	}
	return "none"
}

// Result is the outcome of Resolve. Speaker is set for Kind Speaker and
// Slice for Kind Slice.
type Result struct {
	Kind    ResultKind
	Speaker int
	Slice   model.TimeSlice
}

// BuildTokens flattens word groups into [label, word, word, ...] per group.
// label renders a speaker number; nil uses "Speaker N".
func BuildTokens(groups []model.SpeakerWordGroup, label func(int) string) []Token {
	if label == nil {
		label = DefaultLabel
	}
	var tokens []Token
	for g, group := range groups {
		tokens = append(tokens, Token{
			Kind:    KindSpeaker,
			Text:    label(group.Speaker),
			Speaker: group.Speaker,
			Group:   g,
		})
		for _, w := range group.Words {
			tokens = append(tokens, Token{
				Kind:    KindWord,
				Text:    w.Text,
				Start:   w.StartSeconds,
				End:     w.EndSeconds,
				Speaker: group.Speaker,
				Group:   g,
			})
		}
	}
	return tokens
}

// DefaultLabel renders speaker n as "Speaker n".
func DefaultLabel(n int) string {
	return "Speaker " + strconv.Itoa(n)
}

// Resolve maps sel to a speaker, a time slice, or nothing.
func Resolve(sel Selection) Result {
	t := sel.Tokens
	if !inRange(t, sel.Anchor) || !inRange(t, sel.Focus) {
		return Result{}
	}
	if sel.Anchor == sel.Focus {
		return Result{}
	}
	if sel.Anchor.Index == sel.Focus.Index && t[sel.Anchor.Index].Kind == KindSpeaker {
		return Result{Kind: Speaker, Speaker: t[sel.Anchor.Index].Speaker}
	}

	anchorTime := startBoundary(t, sel.Anchor)
	focusTime := endBoundary(t, sel.Focus)
	if anchorTime <= focusTime {
		return Result{Kind: Slice, Slice: model.TimeSlice{Start: anchorTime, End: focusTime}}
	}

	// Backward drag: take the start from the focus side and the end from
	// the anchor side, with the same boundary rules as a forward drag.
	start := startBoundary(t, sel.Focus)
	end := endBoundary(t, sel.Anchor)
	if start > end {
		return Result{}
	}
	return Result{Kind: Slice, Slice: model.TimeSlice{Start: start, End: end}}
}

// startBoundary is the time a selection beginning at p starts from.
func startBoundary(t []Token, p Position) float64 {
	tok := t[p.Index]
	if tok.Kind == KindSpeaker {
		if w, ok := firstWordOf(t, tok.Group); ok {
			return w.Start
		}
		return ForwardFallback
	}
	if p.Offset < len([]rune(tok.Text)) {
		return tok.Start
	}
	// In the gap after the word.
	if i := p.Index + 1; i < len(t) && t[i].Kind == KindWord && t[i].Group == tok.Group {
		return t[i].Start
	}
	for g := tok.Group + 1; g <= lastGroup(t); g++ {
		if w, ok := firstWordOf(t, g); ok {
			return w.Start
		}
	}
	return ForwardFallback
}

// endBoundary is the time a selection finishing at p ends at.
func endBoundary(t []Token, p Position) float64 {
	tok := t[p.Index]
	if tok.Kind == KindSpeaker {
		return previousGroupEnd(t, tok.Group)
	}
	if p.Offset > 0 {
		return tok.End
	}
	// Before the first character: the selection really ends at the previous word.
	if i := p.Index - 1; i >= 0 && t[i].Kind == KindWord && t[i].Group == tok.Group {
		return t[i].End
	}
	return tok.Start
}

func previousGroupEnd(t []Token, group int) float64 {
	for g := group - 1; g >= 0; g-- {
		if w, ok := lastWordOf(t, g); ok {
			return w.End
		}
	}
	return ReverseFallback
}

func firstWordOf(t []Token, group int) (Token, bool) {
	for _, tok := range t {
		if tok.Group == group && tok.Kind == KindWord {
			return tok, true
		}
	}
	return Token{}, false
}

func lastWordOf(t []Token, group int) (Token, bool) {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].Group == group && t[i].Kind == KindWord {
			return t[i], true
		}
	}
	return Token{}, false
}

func lastGroup(t []Token) int {
	if len(t) == 0 {
		return -1
	}
	return t[len(t)-1].Group
}

func inRange(t []Token, p Position) bool {
	return p.Index >= 0 && p.Index < len(t) && p.Offset >= 0
}
