package search

import (
	"errors"
	"testing"
)

type fakeSearcher struct {
	results []Result
	total   int
	err     error
	got     Query
}

func (f *fakeSearcher) Search(q Query) ([]Result, int, error) {
	f.got = q
	return f.results, f.total, f.err
}

func (f *fakeSearcher) Healthy() bool { return true }

func TestSearchFallsBackWithoutMeili(t *testing.T) {
	pg := &fakeSearcher{
		results: []Result{{Type: ResultPermission, ID: "perm_1", LeaderID: "acct_leader"}},
		total:   1,
	}
	svc := &Service{pg: pg}

	resp := svc.Search(Query{Text: "charcoal", LeaderID: "acct_leader"})
	if resp.Total != 1 || len(resp.Results) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if pg.got.LeaderID != "acct_leader" {
		t.Fatalf("expected leader filter to reach backend, got %+v", pg.got)
	}
}

func TestSearchRestrictsToLeader(t *testing.T) {
	pg := &fakeSearcher{
		results: []Result{
			{Type: ResultPermission, ID: "perm_1", LeaderID: "acct_leader"},
			{Type: ResultAlert, ID: "alert_1", LeaderID: "acct_other"},
		},
		total: 2,
	}
	svc := &Service{pg: pg}

	resp := svc.Search(Query{Text: "smoke", LeaderID: "acct_leader"})
	if len(resp.Results) != 1 || resp.Results[0].ID != "perm_1" {
		t.Fatalf("expected only routed hits, got %+v", resp.Results)
	}

	all := svc.Search(Query{Text: "smoke"})
	if len(all.Results) != 2 {
		t.Fatalf("expected admin query to see all hits, got %+v", all.Results)
	}
}

func TestSearchReturnsEmptyOnError(t *testing.T) {
	svc := &Service{pg: &fakeSearcher{err: errors.New("db down")}}
	resp := svc.Search(Query{Text: "x"})
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("expected empty non-nil results, got %+v", resp.Results)
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_off\`); got != `50\%\_off\\` {
		t.Fatalf("unexpected escape %q", got)
	}
}
