package model

import "time"

// Network is an uploaded weights artifact. It is immutable once stored and
// identified by the SHA-256 of its decompressed content.
type Network struct {
	Hash          string    `db:"hash" json:"hash"`
	Filters       int       `db:"filters" json:"filters"`
	Blocks        int       `db:"blocks" json:"blocks"`
	TrainingCount int64     `db:"training_count" json:"training_count"`
	TrainingSteps *int64    `db:"training_steps" json:"training_steps,omitempty"`
	Description   string    `db:"description" json:"description,omitempty"`
	UploaderID    string    `db:"uploader_id" json:"-"`
	GameCount     int64     `db:"game_count" json:"game_count"`
	UploadedAt    time.Time `db:"uploaded_at" json:"uploaded_at"`
}

// Architecture returns the "filters x blocks" label used in logs and responses.
func (n Network) Architecture() string {
	return itoa(n.Filters) + "x" + itoa(n.Blocks)
}
