package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// History limits. The bound caps memory and transfer per fetch; it is not a
// completeness guarantee, callers wanting full history paginate with cursors.
const (
	DefaultMessageLimit = 300
	MaxMessageLimit     = 1000

	DefaultInboxLimit = 50
	MaxInboxLimit     = 200
)

// ClampMessageLimit normalizes a requested history limit.
func ClampMessageLimit(limit int) int {
	if limit <= 0 {
		return DefaultMessageLimit
	}
	if limit > MaxMessageLimit {
		return MaxMessageLimit
	}
	return limit
}

// ClampInboxLimit normalizes a requested inbox page size.
func ClampInboxLimit(limit int) int {
	if limit <= 0 {
		return DefaultInboxLimit
	}
	if limit > MaxInboxLimit {
		return MaxInboxLimit
	}
	return limit
}

// ParseLimit parses a limit query parameter, falling back to zero (meaning
// "use the default") on empty input.
func ParseLimit(limitStr string) (int, error) {
	if limitStr == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}
	return limit, nil
}

// Cursor is a keyset position in a message log: fetch rows strictly before
// (created_at, message_id). Ordering by this pair is total, so keyset
// pagination never skips or duplicates rows.
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	MessageID uuid.UUID `json:"message_id"`
}

// Encode serializes a cursor for transport in a query parameter.
func (c *Cursor) Encode() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

// DecodeCursor parses a transport-encoded cursor. Empty input yields nil
// (meaning "start from the newest rows").
func DecodeCursor(encoded string) (*Cursor, error) {
	if encoded == "" {
		return nil, nil
	}
	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	cursor := &Cursor{}
	if err := json.Unmarshal(data, cursor); err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	return cursor, nil
}
