package model

import "encoding/json"

// TaskKind tags the variant held by a Task.
type TaskKind string

const (
	TaskSelfPlay TaskKind = "selfplay"
	TaskMatch    TaskKind = "match"
)

// Color is the side a network plays in a match game.
type Color string

const (
	ColorBlack Color = "black"
	ColorWhite Color = "white"
)

// SelfPlayTask asks a worker to generate training games with NetworkHash.
type SelfPlayTask struct {
	NetworkHash string
}

// MatchTask asks a worker to play one game between White and Black.
type MatchTask struct {
	MatchID    string
	WhiteHash  string
	BlackHash  string
	NetworkA   string
	NetworkB   string
	NetworkAIs Color
}

// Task is the response to a worker poll. Exactly one of SelfPlay and Match is set,
// matching Kind.
type Task struct {
	Kind                  TaskKind
	RequiredClientVersion string
	EngineVersion         string
	Seed                  string
	Options               Options
	OptionsHash           string

	SelfPlay *SelfPlayTask
	Match    *MatchTask
}

type wireTask struct {
	Cmd                   string            `json:"cmd"`
	Hash                  string            `json:"hash,omitempty"`
	WhiteHash             string            `json:"white_hash,omitempty"`
	BlackHash             string            `json:"black_hash,omitempty"`
	RequiredClientVersion string            `json:"required_client_version"`
	EngineVersion         string            `json:"leelaz_version"`
	RandomSeed            string            `json:"random_seed"`
	Options               map[string]string `json:"options"`
	OptionsHash           string            `json:"options_hash"`
}

// MarshalJSON renders the task in the worker wire format.
func (t Task) MarshalJSON() ([]byte, error) {
	w := wireTask{
		Cmd:                   string(t.Kind),
		RequiredClientVersion: t.RequiredClientVersion,
		EngineVersion:         t.EngineVersion,
		RandomSeed:            t.Seed,
		Options:               t.Options.Wire(),
		OptionsHash:           t.OptionsHash,
	}
	switch t.Kind {
	case TaskSelfPlay:
		if t.SelfPlay != nil {
			w.Hash = t.SelfPlay.NetworkHash
		}
	case TaskMatch:
		if t.Match != nil {
			w.WhiteHash = t.Match.WhiteHash
			w.BlackHash = t.Match.BlackHash
		}
	}
	return json.Marshal(w)
}
