package model

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// NewID returns a time-ordered (v7) identifier. Ids of records inserted later
// sort after ids of earlier records, which is what trailing-window queries rely on.
func NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// IDFloor returns the smallest v7 identifier that could have been minted at t.
// Every id created at or after t compares greater than or equal to it.
func IDFloor(t time.Time) uuid.UUID {
	var id uuid.UUID
	var ms [8]byte
	binary.BigEndian.PutUint64(ms[:], uint64(t.UnixMilli()))
	copy(id[0:6], ms[2:8])
	id[6] = 0x70
	id[8] = 0x80
	return id
}
