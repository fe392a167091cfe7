package search

import (
	"context"
	"log/slog"
)

// Service is the facade that tries Meilisearch first and falls back to Postgres.
type Service struct {
	meili *Meili
	pg    Searcher
	// loader feeds ReindexAllFromPG; nil disables reindexing.
	loader *PgSearch
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pg *PgSearch) *Service {
	s := &Service{meili: meili, loader: pg}
	if pg != nil {
		s.pg = pg
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: restrictToLeader(nonNil(results), q.LeaderID), Total: total, Query: q.Text}
		}
		slog.Warn("search: meilisearch error, falling back to postgres", "error", err)
	}

	if s.pg == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.pg.Search(q)
	if err != nil {
		slog.Warn("search: postgres error", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: restrictToLeader(nonNil(results), q.LeaderID), Total: total, Query: q.Text}
}

// IndexPermission indexes a permission request (fire-and-forget to Meilisearch).
func (s *Service) IndexPermission(record PermissionRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexPermissions([]PermissionRecord{record}); err != nil {
			slog.Warn("search: index permission", "id", record.ID, "error", err)
		}
	}()
}

// IndexAlerts indexes alerts (fire-and-forget to Meilisearch).
func (s *Service) IndexAlerts(records []AlertRecord) {
	if s.meili == nil || !s.meili.Healthy() || len(records) == 0 {
		return
	}
	go func() {
		if err := s.meili.IndexAlerts(records); err != nil {
			slog.Warn("search: index alerts", "count", len(records), "error", err)
		}
	}()
}

// DeletePermission removes a permission request from the index (fire-and-forget).
func (s *Service) DeletePermission(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeletePermission(id); err != nil {
			slog.Warn("search: delete permission", "id", id, "error", err)
		}
	}()
}

// ReindexAllFromPG pushes every searchable record from Postgres into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.loader == nil {
		return
	}
	permissions, alerts, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		slog.Warn("search: reindex load failed", "error", err)
		return
	}
	if err := s.meili.IndexPermissions(permissions); err != nil {
		slog.Warn("search: reindex permissions", "error", err)
	}
	if err := s.meili.IndexAlerts(alerts); err != nil {
		slog.Warn("search: reindex alerts", "error", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

// restrictToLeader drops hits routed to a different approver. Index filters
// already do this; the check guards against stale index documents.
func restrictToLeader(results []Result, leaderID string) []Result {
	if leaderID == "" {
		return results
	}
	filtered := make([]Result, 0, len(results))
	for _, result := range results {
		if result.LeaderID != leaderID {
			continue
		}
		filtered = append(filtered, result)
	}
	return filtered
}
