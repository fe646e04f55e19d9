package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBMissingKey(t *testing.T) {
	db := NewMemDB()
	value, err := db.Get([]byte("absent"))
	require.NoError(t, err)
	require.Nil(t, value)
}

func TestMemDBPutGetIsolation(t *testing.T) {
	db := NewMemDB()
	payload := []byte{1, 2, 3}
	require.NoError(t, db.Put([]byte("k"), payload))

	payload[0] = 9
	stored, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, stored)

	stored[1] = 9
	again, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, again)
}

func TestLevelDBRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db, err := NewLevelDB(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close()) }()

	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	value, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)

	missing, err := db.Get([]byte("absent"))
	require.NoError(t, err)
	require.Nil(t, missing)
}
