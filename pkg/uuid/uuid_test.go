package uuid

import (
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUUID(t *testing.T) {
	id := GetUUID()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestGetPureUUID(t *testing.T) {
	id := GetPureUUID()
	assert.Len(t, id, 32)
	assert.NotContains(t, id, "-")
}

func TestGetUUIDSortable(t *testing.T) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = GetUUID()
	}
	assert.True(t, sort.StringsAreSorted(ids))
}
