package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStationSet(t *testing.T) {
	set, err := NewStationSet([]string{"A2", " A1 ", "B7"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A2", "A1", "B7"}, set.IDs())
	assert.Equal(t, 3, set.Len())
	assert.False(t, set.IsEmpty())
}

func TestNewStationSet_RejectsDuplicates(t *testing.T) {
	_, err := NewStationSet([]string{"A1", "a1"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewStationSet([]string{"A1", ""})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStationSet_IDsIsCopy(t *testing.T) {
	set, err := NewStationSet([]string{"A1"})
	require.NoError(t, err)

	ids := set.IDs()
	ids[0] = "changed"
	assert.Equal(t, []string{"A1"}, set.IDs())
}

func TestStationSet_Empty(t *testing.T) {
	set, err := NewStationSet(nil)
	require.NoError(t, err)
	assert.True(t, set.IsEmpty())
}
