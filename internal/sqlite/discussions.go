package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"

	"github.com/jdholdren/eddy/internal/eddy"
)

// UpsertDiscussion stores one per-source record, keyed on (source_type,
// external_id). First sight inserts everything; a re-collection updates only
// the mutable subset (title, body text, score, comment count, meta) and
// leaves author, url, published time, comment collection state and the links
// alone, so re-seeing a story cannot requeue comments already collected.
// Concurrent calls for the same key converge on one row, last writer wins.
//
// When the record carries a URL it is resolved to a content id first; a URL
// that cannot be canonicalized just leaves the link null; the discussion
// itself is still stored.
func (r Repo) UpsertDiscussion(ctx context.Context, up eddy.DiscussionUpsert) (string, error) {
	if up.SourceType == "" || up.ExternalID == "" {
		return "", fmt.Errorf("discussion needs a source type and external id: %w", eddy.ErrInvalidURL)
	}

	var contentID *string
	if up.URL != nil && *up.URL != "" {
		id, err := r.EnsureContent(ctx, *up.URL)
		switch {
		case errors.Is(err, eddy.ErrInvalidURL):
			// Not linkable; keep the discussion anyway.
		case err != nil:
			// Resolution failures (including the bounded race) fail soft:
			// the next collection pass will link it.
			slog.Warn("could not resolve content for discussion",
				"source_type", up.SourceType, "external_id", up.ExternalID, "error", err)
		default:
			contentID = &id
		}
	}

	const q = `INSERT INTO discussions (
		id, source_id, content_id, source_type, external_id, title, author,
		url, body_text, published_at, collected_at, meta, comments_status,
		comments_json, score, comment_count
	) VALUES (
		:id, :source_id, :content_id, :source_type, :external_id, :title, :author,
		:url, :body_text, :published_at, :collected_at, :meta, :comments_status,
		:comments_json, :score, :comment_count
	)
	ON CONFLICT (source_type, external_id) DO UPDATE SET
		title = excluded.title,
		body_text = excluded.body_text,
		score = excluded.score,
		comment_count = excluded.comment_count,
		comments_status = COALESCE(comments_status, excluded.comments_status),
		comments_json = COALESCE(comments_json, excluded.comments_json),
		meta = excluded.meta,
		content_id = COALESCE(content_id, excluded.content_id);`

	d := eddy.Discussion{
		ID:             newID(discussionNamespace),
		SourceID:       up.SourceID,
		ContentID:      contentID,
		SourceType:     up.SourceType,
		ExternalID:     up.ExternalID,
		Title:          up.Title,
		Author:         up.Author,
		URL:            up.URL,
		BodyText:       up.BodyText,
		PublishedAt:    up.PublishedAt,
		CollectedAt:    nowUTC(),
		Meta:           up.Meta,
		CommentsStatus: up.CommentsStatus,
		CommentsJSON:   up.CommentsJSON,
		Score:          up.Score,
		CommentCount:   up.CommentCount,
	}
	if _, err := r.db.NamedExecContext(ctx, q, d); err != nil {
		return "", fmt.Errorf("error upserting discussion: %s", err)
	}

	// The stored id is read back on the unique key: on conflict the insert's
	// own id was discarded in favor of the existing row's.
	stored, err := r.DiscussionByKey(ctx, up.SourceType, up.ExternalID)
	if err != nil {
		return "", fmt.Errorf("error reading back discussion: %s", err)
	}
	return stored.ID, nil
}

func (r Repo) Discussion(ctx context.Context, id string) (eddy.Discussion, error) {
	const q = `SELECT * FROM discussions WHERE id = ?;`

	var d eddy.Discussion
	err := r.db.GetContext(ctx, &d, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return eddy.Discussion{}, eddy.ErrNotFound
	}
	if err != nil {
		return eddy.Discussion{}, fmt.Errorf("error fetching discussion: %s", err)
	}

	return d, nil
}

func (r Repo) DiscussionByKey(ctx context.Context, sourceType, externalID string) (eddy.Discussion, error) {
	const q = `SELECT * FROM discussions WHERE source_type = ? AND external_id = ?;`

	var d eddy.Discussion
	err := r.db.GetContext(ctx, &d, q, sourceType, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return eddy.Discussion{}, eddy.ErrNotFound
	}
	if err != nil {
		return eddy.Discussion{}, fmt.Errorf("error fetching discussion by key: %s", err)
	}

	return d, nil
}

func (r Repo) DiscussionsForContent(ctx context.Context, contentID string) ([]eddy.Discussion, error) {
	const q = `SELECT * FROM discussions WHERE content_id = ? ORDER BY published_at DESC;`

	var ds []eddy.Discussion
	if err := r.db.SelectContext(ctx, &ds, q, contentID); err != nil {
		return nil, fmt.Errorf("error fetching discussions for content: %s", err)
	}

	return ds, nil
}

func (r Repo) RecentDiscussions(ctx context.Context, limit, offset int) ([]eddy.Discussion, error) {
	const q = `SELECT * FROM discussions ORDER BY collected_at DESC LIMIT ? OFFSET ?;`

	var ds []eddy.Discussion
	if err := r.db.SelectContext(ctx, &ds, q, limit, offset); err != nil {
		return nil, fmt.Errorf("error fetching recent discussions: %s", err)
	}

	return ds, nil
}

func (r Repo) CountDiscussions(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM discussions;`); err != nil {
		return 0, fmt.Errorf("error counting discussions: %s", err)
	}
	return n, nil
}

func (r Repo) DiscussionsNeedingComments(ctx context.Context, sourceType string, limit int) ([]eddy.Discussion, error) {
	query, args, err := sq.Select("*").From("discussions").
		Where(sq.Eq{"source_type": sourceType}).
		Where(sq.Eq{"comments_status": string(eddy.CommentsPending)}).
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	var ds []eddy.Discussion
	if err := r.db.SelectContext(ctx, &ds, query, args...); err != nil {
		return nil, fmt.Errorf("error fetching discussions needing comments: %s", err)
	}

	return ds, nil
}

func (r Repo) SetDiscussionComments(ctx context.Context, id string, commentsJSON string) error {
	const q = `UPDATE discussions SET comments_json = ?, comments_status = ? WHERE id = ?;`
	if _, err := r.db.ExecContext(ctx, q, commentsJSON, eddy.CommentsDone, id); err != nil {
		return fmt.Errorf("error setting discussion comments: %s", err)
	}
	return nil
}
