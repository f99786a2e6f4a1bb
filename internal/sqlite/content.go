package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/jdholdren/eddy/internal/eddy"
	"github.com/jdholdren/eddy/internal/urlx"
)

// EnsureContent canonicalizes rawURL and returns the id of its one content
// row, inserting the row on first sight.
//
// The insert ignores conflicts on canonical_url and the id comes from a
// read-back keyed on that unique column, not from the insert itself: when
// two callers race, exactly one insert lands and both read back the same
// row. If the read-back transiently sees nothing (the losing writer can
// observe a window before the winner's row is visible), the whole operation
// is retried once before surfacing eddy.ErrResolveRace.
func (r Repo) EnsureContent(ctx context.Context, rawURL string) (string, error) {
	canonical, err := urlx.Normalize(rawURL)
	if err != nil {
		return "", err
	}
	return ensureContent(ctx, r.db, canonical)
}

// contentDB is the slice of sqlx the ensure path needs.
type contentDB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func ensureContent(ctx context.Context, db contentDB, canonical string) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		id, err := ensureContentOnce(ctx, db, canonical)
		if errors.Is(err, eddy.ErrResolveRace) {
			continue
		}
		if err != nil {
			return "", err
		}
		return id, nil
	}
	return "", fmt.Errorf("resolving %s: %w", canonical, eddy.ErrResolveRace)
}

func ensureContentOnce(ctx context.Context, db contentDB, canonical string) (string, error) {
	const insert = `INSERT INTO content (id, canonical_url, domain)
	VALUES (?, ?, ?)
	ON CONFLICT (canonical_url) DO NOTHING;`

	var domain *string
	if d := urlx.ExtractDomain(canonical); d != "" {
		domain = &d
	}
	if _, err := db.ExecContext(ctx, insert, newID(contentNamespace), canonical, domain); err != nil {
		return "", fmt.Errorf("error inserting content: %s", err)
	}

	const readBack = `SELECT id FROM content WHERE canonical_url = ?;`
	var id string
	err := db.GetContext(ctx, &id, readBack, canonical)
	if errors.Is(err, sql.ErrNoRows) {
		return "", eddy.ErrResolveRace
	}
	if err != nil {
		return "", fmt.Errorf("error reading back content: %s", err)
	}
	return id, nil
}

func (r Repo) Content(ctx context.Context, id string) (eddy.Content, error) {
	const q = `SELECT * FROM content WHERE id = ?;`

	var c eddy.Content
	err := r.db.GetContext(ctx, &c, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return eddy.Content{}, eddy.ErrNotFound
	}
	if err != nil {
		return eddy.Content{}, fmt.Errorf("error fetching content: %s", err)
	}

	return c, nil
}

func (r Repo) ContentByURL(ctx context.Context, canonicalURL string) (eddy.Content, error) {
	const q = `SELECT * FROM content WHERE canonical_url = ?;`

	var c eddy.Content
	err := r.db.GetContext(ctx, &c, q, canonicalURL)
	if errors.Is(err, sql.ErrNoRows) {
		return eddy.Content{}, eddy.ErrNotFound
	}
	if err != nil {
		return eddy.Content{}, fmt.Errorf("error fetching content by url: %s", err)
	}

	return c, nil
}

func (r Repo) ContentInFetchStatus(ctx context.Context, status eddy.FetchStatus, limit int) ([]eddy.Content, error) {
	query, args, err := sq.Select("*").From("content").
		Where(sq.Eq{"fetch_status": string(status)}).
		OrderBy("created_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	var rows []eddy.Content
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("error selecting content by fetch status: %s", err)
	}

	return rows, nil
}

// Fetch stage transitions. Each one writes only the fetch machine's columns.

// MarkContentPending sends a row back to the download queue, clearing any
// earlier outcome.
func (r Repo) MarkContentPending(ctx context.Context, id string) error {
	const q = `UPDATE content SET fetch_status = ?, fetch_error = NULL, fetched_at = NULL WHERE id = ?;`
	if _, err := r.db.ExecContext(ctx, q, eddy.FetchPending, id); err != nil {
		return fmt.Errorf("error marking content pending: %s", err)
	}
	return nil
}

func (r Repo) MarkContentSkipped(ctx context.Context, id string) error {
	const q = `UPDATE content SET fetch_status = ?, fetched_at = ? WHERE id = ?;`
	if _, err := r.db.ExecContext(ctx, q, eddy.FetchSkipped, nowUTC(), id); err != nil {
		return fmt.Errorf("error marking content skipped: %s", err)
	}
	return nil
}

func (r Repo) MarkContentDownloaded(ctx context.Context, id string) error {
	const q = `UPDATE content SET fetch_status = ?, fetched_at = ? WHERE id = ?;`
	if _, err := r.db.ExecContext(ctx, q, eddy.FetchDownloaded, nowUTC(), id); err != nil {
		return fmt.Errorf("error marking content downloaded: %s", err)
	}
	return nil
}

func (r Repo) MarkContentFetched(ctx context.Context, id string, title, bodyText *string) error {
	const q = `UPDATE content SET fetch_status = ?, title = ?, body_text = ?, fetched_at = ? WHERE id = ?;`
	if _, err := r.db.ExecContext(ctx, q, eddy.FetchFetched, title, bodyText, nowUTC(), id); err != nil {
		return fmt.Errorf("error marking content fetched: %s", err)
	}
	return nil
}

func (r Repo) MarkContentFetchFailed(ctx context.Context, id string, errMsg string) error {
	const q = `UPDATE content SET fetch_status = ?, fetch_error = ?, fetched_at = ? WHERE id = ?;`
	if _, err := r.db.ExecContext(ctx, q, eddy.FetchFailed, errMsg, nowUTC(), id); err != nil {
		return fmt.Errorf("error marking content fetch failed: %s", err)
	}
	return nil
}

// TranscribableContent returns content rows still inside the transcription
// lifecycle, joined with the discussion that knows the external video id.
// Rows left in downloading/transcribing by a crash come back too; the stage
// resumes them from bronze.
func (r Repo) TranscribableContent(ctx context.Context, limit int) ([]eddy.TranscribableItem, error) {
	query := sq.Select(
		"c.id AS content_id",
		"c.canonical_url",
		"c.transcription_status",
		"d.external_id",
		"d.title",
	).
		From("content c").
		Join("discussions d ON d.content_id = c.id").
		Where(sq.Eq{"c.transcription_status": []string{
			string(eddy.TranscriptionPending),
			string(eddy.TranscriptionDownloading),
			string(eddy.TranscriptionTranscribing),
		}}).
		Where(sq.Eq{"d.source_type": "youtube"}).
		OrderBy("c.created_at ASC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	var items []eddy.TranscribableItem
	if err := r.db.SelectContext(ctx, &items, q, args...); err != nil {
		return nil, fmt.Errorf("error selecting transcribable content: %s", err)
	}

	return items, nil
}

// MarkTranscriptionPending enters a row into the transcription lifecycle.
// Only rows outside it (status NULL) are touched, so re-collection of a
// video never resets progress.
func (r Repo) MarkTranscriptionPending(ctx context.Context, id string) error {
	const q = `UPDATE content SET transcription_status = ? WHERE id = ? AND transcription_status IS NULL;`
	if _, err := r.db.ExecContext(ctx, q, eddy.TranscriptionPending, id); err != nil {
		return fmt.Errorf("error marking transcription pending: %s", err)
	}
	return nil
}

func (r Repo) MarkTranscriptionDownloading(ctx context.Context, id string) error {
	return r.setTranscriptionStatus(ctx, id, eddy.TranscriptionDownloading)
}

func (r Repo) MarkTranscriptionTranscribing(ctx context.Context, id string) error {
	return r.setTranscriptionStatus(ctx, id, eddy.TranscriptionTranscribing)
}

func (r Repo) setTranscriptionStatus(ctx context.Context, id string, status eddy.TranscriptionStatus) error {
	const q = `UPDATE content SET transcription_status = ? WHERE id = ?;`
	if _, err := r.db.ExecContext(ctx, q, status, id); err != nil {
		return fmt.Errorf("error setting transcription status: %s", err)
	}
	return nil
}

// MarkTranscriptionCompleted writes the transcript into the shared body_text
// column; the completed transcription status is what disambiguates it from
// extracted article text.
func (r Repo) MarkTranscriptionCompleted(ctx context.Context, id string, transcript, language string) error {
	const q = `UPDATE content SET transcription_status = ?, body_text = ?, detected_language = ? WHERE id = ?;`
	if _, err := r.db.ExecContext(ctx, q, eddy.TranscriptionCompleted, transcript, language, id); err != nil {
		return fmt.Errorf("error marking transcription completed: %s", err)
	}
	return nil
}

func (r Repo) MarkTranscriptionFailed(ctx context.Context, id string, errMsg string) error {
	const q = `UPDATE content SET transcription_status = ?, transcription_error = ? WHERE id = ?;`
	if _, err := r.db.ExecContext(ctx, q, eddy.TranscriptionFailed, errMsg, id); err != nil {
		return fmt.Errorf("error marking transcription failed: %s", err)
	}
	return nil
}

func (r Repo) UnenrichedContent(ctx context.Context, limit int) ([]eddy.Content, error) {
	query, args, err := sq.Select("*").From("content").
		Where("enriched_at IS NULL").
		OrderBy("created_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	var rows []eddy.Content
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("error selecting unenriched content: %s", err)
	}

	return rows, nil
}

func (r Repo) MarkContentEnriched(ctx context.Context, id string) error {
	const q = `UPDATE content SET enriched_at = ? WHERE id = ?;`
	if _, err := r.db.ExecContext(ctx, q, nowUTC(), id); err != nil {
		return fmt.Errorf("error marking content enriched: %s", err)
	}
	return nil
}

// SetContentBodyIfEmpty fills body_text only when nothing has populated it:
// feed entries carry their own summaries, but a stage's extraction or
// transcript always wins over those.
func (r Repo) SetContentBodyIfEmpty(ctx context.Context, id string, bodyText string) error {
	const q = `UPDATE content SET body_text = ? WHERE id = ? AND body_text IS NULL;`
	if _, err := r.db.ExecContext(ctx, q, bodyText, id); err != nil {
		return fmt.Errorf("error setting content body: %s", err)
	}
	return nil
}
