package processor

import (
	"fmt"

	"CampaignMailer/internal/db"
)

// ValidationError names the request field that is missing or malformed.
type ValidationError struct {
	Index int // position in a batch, -1 for a single entry
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("entries[%d].%s: %s", e.Index, e.Field, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// ErrMaxRetries is returned when a failed email has used up its retries. It matches
// db.ErrNotFound so callers treat it like a missing record.
var ErrMaxRetries = fmt.Errorf("max retries reached: %w", db.ErrNotFound)
