package search

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxPermissions = "kilnguard_permissions"
	idxAlerts      = "kilnguard_alerts"
)

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. A failed
// initial health check leaves the client unhealthy; the health loop keeps
// probing.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		slog.Warn("search: meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxPermissions,
			filterable: []string{"leaderId", "burnerId", "status", "kilnId"},
			searchable: []string{"kilnSiteName", "activityLocation", "purpose", "kilnDistrict", "kilnSector", "leaderNote"},
		},
		{
			uid:        idxAlerts,
			filterable: []string{"leaderId", "severity", "kilnId"},
			searchable: []string{"title", "message"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			slog.Debug("search: create index (may already exist)", "index", idx.uid, "error", err)
		}

		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterable[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			slog.Warn("search: update filterable attrs", "index", idx.uid, "error", err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			slog.Warn("search: update searchable attrs", "index", idx.uid, "error", err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				slog.Info("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries both indexes (or one, when filtered) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	for _, ti := range []struct {
		uid  string
		rtyp ResultType
	}{
		{idxPermissions, ResultPermission},
		{idxAlerts, ResultAlert},
	} {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}
		if q.LeaderID != "" {
			sr.Filter = []string{fmt.Sprintf("leaderId = %q", q.LeaderID)}
		}
		queries = append(queries, sr)
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxPermissions:
		return ResultPermission
	case idxAlerts:
		return ResultAlert
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.KilnID = decodeString(hit, "kilnId")
	r.LeaderID = decodeString(hit, "leaderId")

	switch rtyp {
	case ResultPermission:
		r.Title = firstNonBlank(decodeFormattedString(hit, "kilnSiteName"), decodeString(hit, "kilnSiteName"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "purpose"), decodeString(hit, "purpose"))
		r.Status = decodeString(hit, "status")
	case ResultAlert:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "message"), decodeString(hit, "message"))
		r.Status = decodeString(hit, "severity")
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexPermissions adds or updates permission requests.
func (m *Meili) IndexPermissions(records []PermissionRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxPermissions).AddDocuments(records, nil)
	return err
}

// IndexAlerts adds alerts.
func (m *Meili) IndexAlerts(records []AlertRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxAlerts).AddDocuments(records, nil)
	return err
}

// DeletePermission removes a permission request from the index.
func (m *Meili) DeletePermission(id string) error {
	_, err := m.client.Index(idxPermissions).DeleteDocument(id, nil)
	return err
}
