package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}
	a := g.Generate()
	b := g.Generate()

	assert.NotEqual(t, a, b)
	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Len(t, a, 36)
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("ctx-1", "ctx-2")
	assert.Equal(t, "ctx-1", g.Generate())
	assert.Equal(t, "ctx-2", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestEngine_UsesIDGenerator(t *testing.T) {
	e := newTestEngine(t, nil, WithIDGenerator(NewFixedGenerator("alpha")))
	id, err := e.Admit()
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(id))
}
