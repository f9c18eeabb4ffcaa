package model

import (
	"time"

	"github.com/google/uuid"
)

// Game is a self-play record. RecordHash is the SHA-256 of the decompressed
// SGF and is unique: the first submission wins.
type Game struct {
	ID            uuid.UUID `db:"id"`
	RecordHash    string    `db:"record_hash"`
	NetworkHash   string    `db:"network_hash"`
	ClientID      string    `db:"client_id"`
	ClientVersion int       `db:"client_version"`
	OptionsHash   string    `db:"options_hash"`
	WinnerColor   string    `db:"winner_color"`
	MovesCount    *int      `db:"moves_count"`
	Seed          *string   `db:"seed"`
	SGF           string    `db:"sgf"`
	TrainingData  string    `db:"training_data"`
	CreatedAt     time.Time `db:"created_at"`
}

// MatchGame is a single game played for a Match.
type MatchGame struct {
	ID            uuid.UUID `db:"id"`
	RecordHash    string    `db:"record_hash"`
	MatchID       uuid.UUID `db:"match_id"`
	WinnerHash    string    `db:"winner_hash"`
	LoserHash     string    `db:"loser_hash"`
	ClientID      string    `db:"client_id"`
	ClientVersion int       `db:"client_version"`
	OptionsHash   string    `db:"options_hash"`
	WinnerColor   string    `db:"winner_color"`
	MovesCount    *int      `db:"moves_count"`
	Score         string    `db:"score"`
	Seed          *string   `db:"seed"`
	SGF           string    `db:"sgf"`
	CreatedAt     time.Time `db:"created_at"`
}

// MatchResult is the outcome reported for one dispatched match game.
type MatchResult struct {
	WinnerHash  string
	LoserHash   string
	OptionsHash string
	Seed        string
}
