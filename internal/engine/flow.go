package engine

import (
	"github.com/google/uuid"
)

// UUIDv7Generator generates time-sortable UUIDv7 tokens. Engine events use
// them as flow tokens and backfill runs use them as lineage ids.
//
// UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
