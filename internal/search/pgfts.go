package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a ranked tsquery over document names, scoped to revisions the
// caller owns or can reach through room membership.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	args := []any{q.Text, q.UserID}
	scope := "d.owner_id = $2"
	for _, roomID := range q.RoomIDs {
		args = append(args, roomID)
		scope += fmt.Sprintf(" OR d.room_id = $%d", len(args))
	}

	where := fmt.Sprintf(`to_tsvector('simple', d.name) @@ plainto_tsquery('simple', $1)
		AND (%s)`, scope)
	if q.FilterRoomID != "" {
		args = append(args, q.FilterRoomID)
		where += fmt.Sprintf(" AND d.room_id = $%d", len(args))
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM documents d WHERE %s", where)

	dataSQL := fmt.Sprintf(`
		SELECT d.id, d.name, d.owner_id, COALESCE(d.room_id, ''), d.fork_path, d.version, d.content_type
		FROM documents d
		WHERE %s
		ORDER BY ts_rank(to_tsvector('simple', d.name), plainto_tsquery('simple', $1)) DESC, d.created_at DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Name, &r.OwnerID, &r.RoomID, &r.ForkPath, &r.Version, &r.ContentType); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Snippet = r.Name
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every revision for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, owner_id, COALESCE(room_id, ''), fork_path, version, content_type
		FROM documents
	`)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close()

	documents := make([]DocumentRecord, 0)
	for rows.Next() {
		var d DocumentRecord
		if err := rows.Scan(&d.ID, &d.Name, &d.OwnerID, &d.RoomID, &d.ForkPath, &d.Version, &d.ContentType); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	return documents, nil
}
