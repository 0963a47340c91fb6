// Package domain contains core domain types for the KAYA dispatch service.
package domain

import (
	"strings"
	"time"
)

// Utterance is a single citizen message. It is never mutated after creation.
type Utterance struct {
	Text       string
	SessionID  string
	Language   string
	ReceivedAt time.Time
}

// NewUtterance trims text and stamps the arrival time.
func NewUtterance(text, sessionID, language string, now time.Time) Utterance {
	return Utterance{
		Text:       strings.TrimSpace(text),
		SessionID:  sessionID,
		Language:   language,
		ReceivedAt: now,
	}
}

// Empty reports whether the utterance carries no text.
func (u Utterance) Empty() bool {
	return u.Text == ""
}
