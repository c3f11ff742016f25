package models

// Button is a single inline button; Action is the callback payload.
type Button struct {
	Label  string
	Action string
}

// View is what gets rendered into one chat message.
type View struct {
	Text    string
	Buttons [][]Button
}
