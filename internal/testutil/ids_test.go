package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialIDs(t *testing.T) {
	ids := NewSequentialIDs("sess")
	assert.Equal(t, "sess-1", ids.Generate())
	assert.Equal(t, "sess-2", ids.Generate())
	assert.Equal(t, 2, ids.Issued())
}

func TestSequentialIDs_DefaultPrefix(t *testing.T) {
	assert.Equal(t, "ctx-1", NewSequentialIDs("").Generate())
}
