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

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across ideas, users, and skills using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
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

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Ideas sub-query
	if q.FilterType == "" || q.FilterType == ResultIdea {
		ideaWhere := "i.fts @@ " + tsQuery
		if q.FilterStatus != "" {
			ideaWhere += fmt.Sprintf(" AND i.status = $%d", argN)
			args = append(args, q.FilterStatus)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'idea'::text AS type, i.id, i.title,
				ts_headline('english', coalesce(i.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				i.status,
				ts_rank(i.fts, %s) AS rank
			FROM ideas i
			WHERE %s`, tsQuery, tsQuery, ideaWhere))
	}

	// Users sub-query
	if q.FilterType == "" || q.FilterType == ResultUser {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'user'::text AS type, u.id, u.name AS title,
				ts_headline('english', coalesce(u.bio, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS status,
				ts_rank(u.fts, %s) AS rank
			FROM users u
			WHERE u.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	// Skills sub-query. The table is tiny, so the tsvector is computed
	// on the fly instead of stored.
	if q.FilterType == "" || q.FilterType == ResultSkill {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'skill'::text AS type, s.id, s.name AS title,
				''::text AS snippet,
				''::text AS status,
				ts_rank(to_tsvector('english', s.name), %s) AS rank
			FROM skills s
			WHERE to_tsvector('english', s.name) @@ %s`, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	// Count query
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	// Data query
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

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
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]IdeaRecord, []UserRecord, []SkillRecord, error) {
	ideaRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, status
		FROM ideas
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load ideas: %w", err)
	}
	defer ideaRows.Close()

	ideas := make([]IdeaRecord, 0)
	for ideaRows.Next() {
		var rec IdeaRecord
		if err := ideaRows.Scan(&rec.ID, &rec.Title, &rec.Description, &rec.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan idea: %w", err)
		}
		ideas = append(ideas, rec)
	}
	if err := ideaRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate ideas: %w", err)
	}

	userRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, bio, department
		FROM users
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load users: %w", err)
	}
	defer userRows.Close()

	users := make([]UserRecord, 0)
	for userRows.Next() {
		var rec UserRecord
		if err := userRows.Scan(&rec.ID, &rec.Name, &rec.Bio, &rec.Department); err != nil {
			return nil, nil, nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, rec)
	}
	if err := userRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate users: %w", err)
	}

	skillRows, err := p.db.QueryContext(ctx, `
		SELECT id, name
		FROM skills
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load skills: %w", err)
	}
	defer skillRows.Close()

	skills := make([]SkillRecord, 0)
	for skillRows.Next() {
		var rec SkillRecord
		if err := skillRows.Scan(&rec.ID, &rec.Name); err != nil {
			return nil, nil, nil, fmt.Errorf("scan skill: %w", err)
		}
		skills = append(skills, rec)
	}
	if err := skillRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate skills: %w", err)
	}

	return ideas, users, skills, nil
}
