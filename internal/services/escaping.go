package services

import (
	"fmt"
	"html"
)

// Outbound text is sent with HTML parse mode; every user or catalog string
// passes through one of these helpers before it reaches the provider.

func EscapeHTML(text string) string {
	return html.EscapeString(text)
}

func FormatBold(text string) string {
	return fmt.Sprintf("<b>%s</b>", html.EscapeString(text))
}

func FormatItalic(text string) string {
	return fmt.Sprintf("<i>%s</i>", html.EscapeString(text))
}

func FormatCode(text string) string {
	return fmt.Sprintf("<code>%s</code>", html.EscapeString(text))
}
