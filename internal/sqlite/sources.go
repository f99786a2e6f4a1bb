package sqlite

import (
	"context"
	"fmt"

	"github.com/jdholdren/eddy/internal/eddy"
)

// EnsureSource registers a configured origin, returning the existing row if
// the (type, name) pair is already known. Config is refreshed so edits to
// the sources file take effect on restart.
func (r Repo) EnsureSource(ctx context.Context, sourceType, name, config string) (eddy.Source, error) {
	if config == "" {
		config = "{}"
	}

	const q = `INSERT INTO sources (id, type, name, config)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (type, name) DO UPDATE SET config = excluded.config;`
	if _, err := r.db.ExecContext(ctx, q, newID(sourceNamespace), sourceType, name, config); err != nil {
		return eddy.Source{}, fmt.Errorf("error inserting source: %s", err)
	}

	const readBack = `SELECT * FROM sources WHERE type = ? AND name = ?;`
	var s eddy.Source
	if err := r.db.GetContext(ctx, &s, readBack, sourceType, name); err != nil {
		return eddy.Source{}, fmt.Errorf("error reading back source: %s", err)
	}
	return s, nil
}

func (r Repo) Sources(ctx context.Context) ([]eddy.Source, error) {
	const q = `SELECT * FROM sources ORDER BY type, name;`

	var sources []eddy.Source
	if err := r.db.SelectContext(ctx, &sources, q); err != nil {
		return nil, fmt.Errorf("error selecting sources: %s", err)
	}

	return sources, nil
}

// TouchSource records a successful collection pass.
func (r Repo) TouchSource(ctx context.Context, id string) error {
	const q = `UPDATE sources SET last_fetched_at = ? WHERE id = ?;`
	if _, err := r.db.ExecContext(ctx, q, nowUTC(), id); err != nil {
		return fmt.Errorf("error touching source: %s", err)
	}
	return nil
}
