package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// ListFilter selects one page of an owner's notifications, newest first.
// Cursor and Skip are mutually exclusive: with a Cursor only rows created
// strictly before it are returned (keyset), otherwise Skip rows are skipped
// (offset, unstable when rows are inserted between page requests).
type ListFilter struct {
	OwnerID uuid.UUID
	Cursor  *time.Time
	Skip    int
	Limit   int
}
