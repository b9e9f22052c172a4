package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/reglet-workers/domain/entities"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	room := entities.StateHandle{Class: "Room", ID: "1"}
	other := entities.StateHandle{Class: "Room", ID: "2"}

	_, found, err := s.Get(ctx, room, "topic")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Put(ctx, room, "topic", []byte("go")))
	require.NoError(t, s.Put(ctx, room, "topic", []byte("wasm")))
	require.NoError(t, s.Put(ctx, room, "t_x", nil))
	require.NoError(t, s.Put(ctx, room, "tax", []byte("1")))
	require.NoError(t, s.Put(ctx, other, "topic", []byte("rust")))

	v, found, err := s.Get(ctx, room, "topic")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "wasm", string(v), "put overwrites")

	keys, err := s.List(ctx, room, "t_")
	require.NoError(t, err)
	assert.Equal(t, []string{"t_x"}, keys, "prefix wildcards are literal")

	keys, err = s.List(ctx, room, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"t_x", "tax", "topic"}, keys)

	require.NoError(t, s.Delete(ctx, room, "topic"))
	_, found, err = s.Get(ctx, room, "topic")
	require.NoError(t, err)
	assert.False(t, found)

	v, _, err = s.Get(ctx, other, "topic")
	require.NoError(t, err)
	assert.Equal(t, "rust", string(v))
}

func TestStore_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	h := entities.StateHandle{Class: "Counter", ID: "a"}

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, h, "n", []byte("3")))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	v, found, err := s.Get(ctx, h, "n")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "3", string(v))
}
