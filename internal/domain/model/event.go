package model

import (
	"time"

	"github.com/google/uuid"
)

// EventStream is the stream lifecycle events are published on.
const EventStream = "leelaz:events"

type EventType string

const (
	EventNetworkUploaded EventType = "NETWORK_UPLOADED"
	EventMatchCreated    EventType = "MATCH_CREATED"
	EventMatchFinished   EventType = "MATCH_FINISHED"
	EventPromotion       EventType = "PROMOTION"
)

// Event is a lifecycle notification. Fields that do not apply to a type are empty.
type Event struct {
	Type         EventType  `json:"type"`
	MatchID      *uuid.UUID `json:"match_id,omitempty"`
	NetworkHash  string     `json:"network_hash,omitempty"`
	PreviousHash string     `json:"previous_hash,omitempty"`
	Verdict      string     `json:"verdict,omitempty"`
	Wins         int        `json:"wins,omitempty"`
	Losses       int        `json:"losses,omitempty"`
	GamesPlayed  int        `json:"games_played,omitempty"`
	At           time.Time  `json:"at"`
}
