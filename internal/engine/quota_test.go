package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegionQuota_WithinLimit(t *testing.T) {
	q := NewRegionQuota(3)
	for i := 0; i < 3; i++ {
		assert.NoError(t, q.Check("ctx-1"), "region %d should be allowed", i+1)
	}
	assert.Equal(t, 3, q.Current())
	assert.Equal(t, 3, q.Limit())
}

func TestRegionQuota_ExceedsLimit(t *testing.T) {
	q := NewRegionQuota(2)
	require.NoError(t, q.Check("ctx-1"))
	require.NoError(t, q.Check("ctx-1"))

	err := q.Check("ctx-1")
	require.Error(t, err)

	var qe *QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "ctx-1", string(qe.ContextID))
	assert.Equal(t, 3, qe.Count)
	assert.Equal(t, 2, qe.Limit)
	assert.Equal(t, 2, q.Current(), "failed check does not count")
	assert.True(t, IsResourceExhausted(err))
	assert.Contains(t, err.Error(), "3 regions > 2 limit")
}

func TestRegionQuota_Reset(t *testing.T) {
	q := NewRegionQuota(1)
	require.NoError(t, q.Check("ctx-1"))
	q.Reset()
	assert.Equal(t, 0, q.Current())
	assert.NoError(t, q.Check("ctx-1"))
}

func TestRegionQuota_Disabled(t *testing.T) {
	q := NewRegionQuota(0)
	for i := 0; i < 1000; i++ {
		require.NoError(t, q.Check("ctx-1"))
	}
}
