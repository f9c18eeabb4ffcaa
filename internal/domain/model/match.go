package model

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Match is a head-to-head test of NetworkA against NetworkB. A nil NetworkB
// stands for whichever network is the reference when the match is first
// dispatched. Wins and Losses are counted from NetworkA's side.
type Match struct {
	ID          uuid.UUID `db:"id" json:"id"`
	NetworkA    string    `db:"network_a" json:"network_a"`
	NetworkB    *string   `db:"network_b" json:"network_b"`
	Wins        int       `db:"wins" json:"wins"`
	Losses      int       `db:"losses" json:"losses"`
	GamesPlayed int       `db:"games_played" json:"games_played"`
	GamesTarget int       `db:"games_target" json:"games_target"`
	IsTest      bool      `db:"is_test" json:"is_test"`
	Options     Options   `db:"options" json:"options"`
	OptionsHash string    `db:"options_hash" json:"options_hash"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Exhausted reports whether the match has played its target number of games.
func (m *Match) Exhausted() bool {
	return m.GamesPlayed >= m.GamesTarget
}

// Remaining returns the games still to be played, never negative.
func (m *Match) Remaining() int {
	if left := m.GamesTarget - m.GamesPlayed; left > 0 {
		return left
	}
	return 0
}

// Involves reports whether hash is one of the two resolved participants.
func (m *Match) Involves(hash string) bool {
	return m.NetworkA == hash || (m.NetworkB != nil && *m.NetworkB == hash)
}

// RecordFor returns the wins and losses of the given participant.
func (m *Match) RecordFor(hash string) (wins, losses int) {
	if hash == m.NetworkA {
		return m.Wins, m.Losses
	}
	return m.Losses, m.Wins
}

// NetworkBOr returns NetworkB, or fallback when it has not been resolved yet.
func (m *Match) NetworkBOr(fallback string) string {
	if m.NetworkB == nil {
		return fallback
	}
	return *m.NetworkB
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
