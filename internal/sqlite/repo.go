// Package sqlite implements the eddy repository over a sqlite database.
// Every write that has to be idempotent under concurrent writers is a
// single conflict-resolving statement; the database is the only
// synchronization point.
package sqlite

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/eddy/internal/eddy"
)

// Ensure Repo implements the full repository surface.
var _ eddy.Repository = (*Repo)(nil)

const (
	sourceNamespace     = "-src"
	contentNamespace    = "-ctnt"
	discussionNamespace = "-dsc"
)

type Repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) Repo {
	return Repo{db: db}
}

func newID(namespace string) string {
	return fmt.Sprintf("%s%s", uuid.NewString(), namespace)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
