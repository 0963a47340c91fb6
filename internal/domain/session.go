package domain

import (
	"time"
)

// StoredTurn is a serialized conversation turn in the session archive.
type StoredTurn struct {
	Utterance string    `json:"utterance"`
	Response  string    `json:"response"`
	Agent     string    `json:"agent"`
	Intent    string    `json:"intent"`
	Persona   string    `json:"persona"`
	Emotion   string    `json:"emotion"`
	Urgency   string    `json:"urgency"`
	ViaLLM    bool      `json:"via_llm"`
	At        time.Time `json:"at"`
}

// ArchivedSession is a session persisted after eviction, explicit end or
// shutdown.
type ArchivedSession struct {
	ID           string
	CreatedAt    time.Time
	LastActivity time.Time
	LastAgent    string
	LastPersona  string
	Turns        []StoredTurn
	ArchivedAt   time.Time
	Reason       string
}

// Archive reasons.
const (
	ArchiveReasonIdle     = "idle"
	ArchiveReasonCapacity = "capacity"
	ArchiveReasonEnded    = "ended"
	ArchiveReasonShutdown = "shutdown"
)
