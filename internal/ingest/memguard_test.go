package ingest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemoryGuard_Disabled(t *testing.T) {
	g, err := NewMemoryGuard(-1)
	require.NoError(t, err)
	assert.Nil(t, g)
	assert.NoError(t, g.Check(2010))
	assert.Zero(t, g.Limit())
}

func TestNewMemoryGuard_Explicit(t *testing.T) {
	g, err := NewMemoryGuard(1 << 20) // 1 TiB
	require.NoError(t, err)
	assert.Equal(t, uint64(1)<<40, g.Limit())
	assert.NoError(t, g.Check(2010), "this process is far below 1 TiB")
}

func TestNewMemoryGuard_Auto(t *testing.T) {
	g, err := NewMemoryGuard(0)
	require.NoError(t, err)
	assert.Positive(t, g.Limit())
}

func TestMemoryGuard_Trips(t *testing.T) {
	g := &MemoryGuard{limit: 100 << 20, rss: func() (uint64, error) { return 101 << 20, nil }}
	err := g.Check(2012)
	require.Error(t, err)

	var memErr *MemoryExhaustionError
	require.ErrorAs(t, err, &memErr)
	assert.Equal(t, uint64(101<<20), memErr.RSSBytes)
	assert.True(t, IsFatal(err))
}

func TestMemoryGuard_UnreadableRSSIgnored(t *testing.T) {
	g := &MemoryGuard{limit: 1, rss: func() (uint64, error) { return 0, errors.New("no /proc") }}
	assert.NoError(t, g.Check(2012))
}
