package model

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bytesReader(s string) io.Reader {
	return bytes.NewReader([]byte(s))
}

func TestIDFloor_OrdersBeforeLaterIDs(t *testing.T) {
	floor := IDFloor(time.Now().Add(-time.Second))
	id := NewID()

	assert.Equal(t, -1, bytes.Compare(floor[:], id[:]))

	future := IDFloor(time.Now().Add(time.Hour))
	assert.Equal(t, 1, bytes.Compare(future[:], id[:]))
	assert.Equal(t, byte(0x70), future[6]&0xf0)
}

func TestMatch_Accessors(t *testing.T) {
	b := "bbb"
	m := Match{NetworkA: "aaa", NetworkB: &b, Wins: 7, Losses: 3, GamesPlayed: 10, GamesTarget: 12}

	assert.False(t, m.Exhausted())
	assert.Equal(t, 2, m.Remaining())
	assert.True(t, m.Involves("bbb"))
	assert.False(t, m.Involves("ccc"))

	w, l := m.RecordFor("bbb")
	assert.Equal(t, 3, w)
	assert.Equal(t, 7, l)

	m.GamesPlayed = 13
	assert.True(t, m.Exhausted())
	assert.Equal(t, 0, m.Remaining())

	lazy := Match{NetworkA: "aaa"}
	assert.Equal(t, "best", lazy.NetworkBOr("best"))
}

func TestTask_MarshalJSON(t *testing.T) {
	task := Task{
		Kind:                  TaskMatch,
		RequiredClientVersion: "15",
		EngineVersion:         "0.13",
		Seed:                  "123",
		Options:               Options{Visits: 3200, ResignationPercent: 5},
		OptionsHash:           "abcdef",
		Match:                 &MatchTask{WhiteHash: "w", BlackHash: "b"},
	}

	raw, err := json.Marshal(task)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "match", decoded["cmd"])
	assert.Equal(t, "w", decoded["white_hash"])
	assert.Equal(t, "b", decoded["black_hash"])
	assert.Equal(t, "0.13", decoded["leelaz_version"])
	assert.NotContains(t, decoded, "hash")

	opts := decoded["options"].(map[string]any)
	assert.Equal(t, "0", opts["playouts"])
	assert.Equal(t, "3200", opts["visits"])
}
