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

// Healthy always returns true; without Postgres nothing works anyway.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks tasks by ts_rank over the generated fts column and builds
// snippets with ts_headline.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	tsQuery := "plainto_tsquery('english', $1)"
	where, args := pgWhere(q, "t.fts @@ "+tsQuery)

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM tasks t WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT t.id, coalesce(t.project_id, ''), t.title,
			ts_headline('english', t.description, %s, 'MaxFragments=1,MaxWords=30'),
			t.status, t.priority, coalesce(t.assigned_to, '')
		FROM tasks t
		WHERE %s
		ORDER BY ts_rank(t.fts, %s) DESC, t.updated_at DESC
		LIMIT %d OFFSET %d`, tsQuery, where, tsQuery, q.limit(), q.offset()), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Title, &r.Snippet, &r.Status, &r.Priority, &r.AssignedTo); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// pgWhere returns the WHERE clause for q. $1 is reserved for the search text.
func pgWhere(q Query, match string) (string, []any) {
	args := []any{q.Text}
	argN := 2

	var visible []string
	if len(q.ProjectIDs) > 0 {
		visible = append(visible, fmt.Sprintf("t.project_id = ANY($%d)", argN))
		args = append(args, q.ProjectIDs)
		argN++
	}
	if q.UserID != "" {
		visible = append(visible, fmt.Sprintf("t.created_by = $%d OR t.assigned_to = $%d", argN, argN))
		args = append(args, q.UserID)
		argN++
	}
	if len(visible) == 0 {
		visible = append(visible, "FALSE")
	}

	clauses := []string{match, "(" + strings.Join(visible, " OR ") + ")"}
	if q.Status != "" {
		clauses = append(clauses, fmt.Sprintf("t.status = $%d", argN))
		args = append(args, q.Status)
		argN++
	}
	if q.Priority != "" {
		clauses = append(clauses, fmt.Sprintf("t.priority = $%d", argN))
		args = append(args, q.Priority)
	}
	return strings.Join(clauses, " AND "), args
}

// LoadAllRecords returns every task for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]TaskRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, coalesce(project_id, ''), title, description, status, priority,
			coalesce(assigned_to, ''), created_by, extract(epoch FROM updated_at)::bigint
		FROM tasks
	`)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()

	records := make([]TaskRecord, 0)
	for rows.Next() {
		var r TaskRecord
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Title, &r.Description, &r.Status, &r.Priority, &r.AssignedTo, &r.CreatedBy, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return records, nil
}
