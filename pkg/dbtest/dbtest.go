package dbtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/attachsync/attachsync/pkg/db"
)

// InitDB opens an initialized results store in a temp directory.
func InitDB(t *testing.T) db.DB {
	t.Helper()

	dbc, err := db.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbc.Close() })

	err = dbc.Init()
	require.NoError(t, err)
	return dbc
}
