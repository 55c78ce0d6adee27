package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeEmoji returns the NFC form of an emoji with surrounding whitespace
// removed. Two visually identical emoji typed on different keyboards compare
// equal after normalisation.
func NormalizeEmoji(emoji string) string {
	return norm.NFC.String(strings.TrimSpace(emoji))
}

// NormalizeText returns the NFC form of message text.
func NormalizeText(text string) string {
	return norm.NFC.String(text)
}
