package app

// Key binding constants used in handleKey.
const (
	KeyQuit      = "q"
	KeyQuitUpper = "Q"
	KeyCtrlC     = "ctrl+c"
	KeySpace     = " "
	KeyTab       = "tab"
	KeyUp        = "up"
	KeyDown      = "down"
	KeyLeft      = "left"
	KeyRight     = "right"
	KeyJ         = "j"
	KeyK         = "k"
	KeyEnter     = "enter"
	KeyEsc       = "esc"
	KeyPlay      = "p"

	// Correction view.
	KeyCharLeft  = "h"
	KeyCharRight = "l"
	KeyNextWord  = "w"
	KeyPrevWord  = "b"
	KeyEndOfWord = "e"
	KeyAnchor    = "v"
	KeyAddPerson = "n"
	KeyDelPerson = "x"
	KeyPrevTopic = "["
	KeyNextTopic = "]"
)
