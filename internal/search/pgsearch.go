package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgSearch implements Searcher with ILIKE scans over PostgreSQL. It is the
// fallback when Meilisearch is not configured or unhealthy.
type PgSearch struct {
	db *sql.DB
}

func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgSearch) Healthy() bool {
	return true
}

func (p *PgSearch) Search(q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
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

	args := []any{"%" + escapeLike(text) + "%"}
	leaderFilter := ""
	if q.LeaderID != "" {
		args = append(args, q.LeaderID)
		leaderFilter = fmt.Sprintf(" AND leader_id = $%d", len(args))
	}

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultPermission {
		subQueries = append(subQueries, `
			SELECT 'permission'::text AS type, id, kiln_site_name AS title, purpose AS snippet,
				status, kiln_id, COALESCE(leader_id, '') AS leader_id, created_at
			FROM permission_requests
			WHERE (kiln_site_name ILIKE $1 OR activity_location ILIKE $1 OR purpose ILIKE $1
				OR kiln_district ILIKE $1 OR kiln_sector ILIKE $1 OR leader_note ILIKE $1)`+leaderFilter)
	}
	if q.FilterType == "" || q.FilterType == ResultAlert {
		subQueries = append(subQueries, `
			SELECT * FROM (
				SELECT 'alert'::text AS type, a.id, a.title, a.message AS snippet,
					a.severity AS status, a.kiln_id, COALESCE(p.leader_id, '') AS leader_id, a.created_at
				FROM alerts a
				LEFT JOIN permission_requests p ON p.id = a.permission_id
				WHERE (a.title ILIKE $1 OR a.message ILIKE $1)
			) alert_hits
			WHERE TRUE`+leaderFilter)
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")

	var total int
	if err := p.db.QueryRow(`SELECT COUNT(*) FROM (`+union+`) hits`, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pg search count: %w", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT type, id, title, snippet, status, kiln_id, leader_id FROM (%s) hits
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, union, len(args)-1, len(args))
	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pg search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var rtyp string
		if err := rows.Scan(&rtyp, &r.ID, &r.Title, &r.Snippet, &r.Status, &r.KilnID, &r.LeaderID); err != nil {
			return nil, 0, fmt.Errorf("scan search hit: %w", err)
		}
		r.Type = ResultType(rtyp)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords reads every searchable entity for a full reindex.
func (p *PgSearch) LoadAllRecords(ctx context.Context) ([]PermissionRecord, []AlertRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, kiln_id, kiln_site_name, activity_location, purpose, kiln_district, kiln_sector,
			leader_note, status, COALESCE(leader_id, ''), burner_id
		FROM permission_requests
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load permission records: %w", err)
	}
	var permissions []PermissionRecord
	for rows.Next() {
		var r PermissionRecord
		if err := rows.Scan(&r.ID, &r.KilnID, &r.KilnSiteName, &r.ActivityLocation, &r.Purpose, &r.KilnDistrict,
			&r.KilnSector, &r.LeaderNote, &r.Status, &r.LeaderID, &r.BurnerID); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("scan permission record: %w", err)
		}
		permissions = append(permissions, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	rows, err = p.db.QueryContext(ctx, `
		SELECT a.id, a.kiln_id, a.title, a.message, a.severity, COALESCE(p.leader_id, '')
		FROM alerts a
		LEFT JOIN permission_requests p ON p.id = a.permission_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load alert records: %w", err)
	}
	defer rows.Close()
	var alerts []AlertRecord
	for rows.Next() {
		var r AlertRecord
		if err := rows.Scan(&r.ID, &r.KilnID, &r.Title, &r.Message, &r.Severity, &r.LeaderID); err != nil {
			return nil, nil, fmt.Errorf("scan alert record: %w", err)
		}
		alerts = append(alerts, r)
	}
	return permissions, alerts, rows.Err()
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
