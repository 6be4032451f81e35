package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTripIsURLSafe(t *testing.T) {
	token, err := EncodeCursor(Cursor{ID: "42", Sequence: 7})
	require.NoError(t, err)
	assert.NotContains(t, token, "/")
	assert.NotContains(t, token, "+")

	decoded, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), decoded.Sequence)
	assert.Equal(t, "42", decoded.ID)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%")
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestBuildCursorPageInfo(t *testing.T) {
	a, b, c := 1, 2, 3
	info := BuildCursorPageInfo([]*int{&a, &b, &c}, 2, func(v *int) string {
		if *v == 2 {
			return "two"
		}
		return "other"
	})
	assert.True(t, info.HasMore)
	assert.Equal(t, "two", info.NextPageToken)

	info = BuildCursorPageInfo([]*int{&a}, 2, func(*int) string { return "x" })
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}

func TestClampPageSize(t *testing.T) {
	assert.Equal(t, 20, ClampPageSize(0, 20, 250))
	assert.Equal(t, 250, ClampPageSize(1000, 20, 250))
	assert.Equal(t, 5, ClampPageSize(5, 20, 250))
}
