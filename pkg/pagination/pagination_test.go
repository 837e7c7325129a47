package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestClampMessageLimit(t *testing.T) {
	assert.Equal(t, DefaultMessageLimit, ClampMessageLimit(0))
	assert.Equal(t, DefaultMessageLimit, ClampMessageLimit(-5))
	assert.Equal(t, 100, ClampMessageLimit(100))
	assert.Equal(t, MaxMessageLimit, ClampMessageLimit(MaxMessageLimit+1))
}

func TestClampInboxLimit(t *testing.T) {
	assert.Equal(t, DefaultInboxLimit, ClampInboxLimit(0))
	assert.Equal(t, 20, ClampInboxLimit(20))
	assert.Equal(t, MaxInboxLimit, ClampInboxLimit(10000))
}

func TestParseLimit(t *testing.T) {
	limit, err := ParseLimit("")
	assert.NoError(t, err)
	assert.Equal(t, 0, limit)

	limit, err = ParseLimit("42")
	assert.NoError(t, err)
	assert.Equal(t, 42, limit)

	_, err = ParseLimit("abc")
	assert.Error(t, err)
}

func TestCursorRoundTrip(t *testing.T) {
	cursor := &Cursor{
		CreatedAt: time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC),
		MessageID: uuid.New(),
	}

	encoded := cursor.Encode()
	assert.NotEmpty(t, encoded)

	decoded, err := DecodeCursor(encoded)
	assert.NoError(t, err)
	assert.True(t, cursor.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, cursor.MessageID, decoded.MessageID)
}

func TestDecodeCursorEmpty(t *testing.T) {
	cursor, err := DecodeCursor("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecodeCursorGarbage(t *testing.T) {
	_, err := DecodeCursor("not-base64!!")
	assert.Error(t, err)
}
