package sqlite

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/jdholdren/eddy/internal/migrations"
	"github.com/stretchr/testify/require"
)

// newTestRepo opens a file-backed test database with the real migrations
// applied. File-backed (not :memory:) so concurrent connections see the
// same database, which the identity-race tests depend on.
func newTestRepo(t *testing.T) Repo {
	t.Helper()

	path := filepath.Join(t.TempDir(), "eddy_test.db")
	dbx, err := sqlx.Open("sqlite", fmt.Sprintf("%s?_txlock=immediate&_journal_mode=WAL&_busy_timeout=5000", path))
	require.NoError(t, err)
	t.Cleanup(func() { dbx.Close() })

	require.NoError(t, migrations.Run(dbx))

	return New(dbx)
}
