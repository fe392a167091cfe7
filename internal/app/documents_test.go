package app

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"kilnguard/api/internal/search"
)

type fakeDocuments struct {
	ownerID string
	kind    string
	body    string
}

func (f *fakeDocuments) Put(_ context.Context, ownerID, kind, filename, _ string, r io.Reader, _ int64) (string, error) {
	data, _ := io.ReadAll(r)
	f.ownerID, f.kind, f.body = ownerID, kind, string(data)
	return "s3://docs/" + ownerID + "/" + kind + "/" + filename, nil
}

type fakeIndex struct {
	mu          sync.Mutex
	lastQuery   search.Query
	permissions []search.PermissionRecord
	alerts      []search.AlertRecord
}

func (f *fakeIndex) Search(q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	return search.Response{Results: []search.Result{{Type: search.ResultPermission, ID: "perm-1"}}, Total: 1, Query: q.Text}
}

func (f *fakeIndex) IndexPermission(record search.PermissionRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permissions = append(f.permissions, record)
}

func (f *fakeIndex) IndexAlerts(records []search.AlertRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, records...)
}

func (f *fakeIndex) DeletePermission(string) {}

func TestStoreDocument(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.StoreDocument(ctx, testOperator, "id_document", "id.pdf", "application/pdf", strings.NewReader("pdf"), 3)
	requireDomainError(t, err, http.StatusServiceUnavailable, "DOCUMENTS_UNAVAILABLE")

	documents := &fakeDocuments{}
	svc.WithDocuments(documents)

	_, err = svc.StoreDocument(ctx, testOperator, "passport", "id.pdf", "application/pdf", strings.NewReader("pdf"), 3)
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	payload, err := svc.StoreDocument(ctx, testOperator, "land_certificate", "deed.pdf", "application/pdf", strings.NewReader("pdf"), 3)
	if err != nil {
		t.Fatalf("store document: %v", err)
	}
	if payload["reference"] != "s3://docs/acct_op/land_certificate/deed.pdf" {
		t.Fatalf("unexpected reference %v", payload["reference"])
	}
	if documents.ownerID != testOperator.UserID || documents.body != "pdf" {
		t.Fatalf("unexpected upload owner=%q body=%q", documents.ownerID, documents.body)
	}

	_, err = svc.StoreDocument(ctx, testLeader, "land_certificate", "deed.pdf", "", strings.NewReader("pdf"), 3)
	requireDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestSearchScopesApproversToTheirRequests(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	payload, err := svc.Search(ctx, testLeader, "hillside", "", 0, 0)
	if err != nil {
		t.Fatalf("search without index: %v", err)
	}
	if payload["total"] != 0 {
		t.Fatalf("expected empty results without an index, got %v", payload["total"])
	}

	index := &fakeIndex{}
	svc.WithSearch(index)

	if _, err := svc.Search(ctx, testLeader, "hillside", "permission", 500, -1); err != nil {
		t.Fatalf("search: %v", err)
	}
	if index.lastQuery.LeaderID != testLeader.UserID || index.lastQuery.Limit != 20 || index.lastQuery.Offset != 0 {
		t.Fatalf("unexpected query %+v", index.lastQuery)
	}

	if _, err := svc.Search(ctx, testAdmin, "hillside", "", 10, 0); err != nil {
		t.Fatalf("admin search: %v", err)
	}
	if index.lastQuery.LeaderID != "" {
		t.Fatalf("admin search must not be scoped, got %q", index.lastQuery.LeaderID)
	}

	_, err = svc.Search(ctx, testAdmin, "  ", "", 10, 0)
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	_, err = svc.Search(ctx, testAdmin, "x", "kiln", 10, 0)
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	_, err = svc.Search(ctx, testOperator, "x", "", 10, 0)
	requireDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestWorkflowKeepsIndexCurrent(t *testing.T) {
	svc, _, _ := newTestService(t)
	index := &fakeIndex{}
	svc.WithSearch(index)
	serial, key := provisionedSensor(t, svc, "smoke")

	if _, err := svc.IngestReading(context.Background(), sampleReading(serial, key, 210)); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	index.mu.Lock()
	defer index.mu.Unlock()
	if len(index.permissions) < 2 {
		t.Fatalf("expected submit and decision to be indexed, got %d records", len(index.permissions))
	}
	last := index.permissions[len(index.permissions)-1]
	if last.Status != "approved" || last.LeaderID != testLeader.UserID {
		t.Fatalf("unexpected indexed permission %+v", last)
	}
	if len(index.alerts) != 1 || index.alerts[0].Severity != "critical" || index.alerts[0].LeaderID != testLeader.UserID {
		t.Fatalf("unexpected indexed alerts %+v", index.alerts)
	}
}
