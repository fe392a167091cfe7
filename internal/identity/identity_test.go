package identity

import (
	"testing"

	"kilnguard/api/internal/rbac"
)

func TestJurisdictionMatches(t *testing.T) {
	j := Jurisdiction{District: "Gasabo", Sector: "Kimironko"}
	cases := []struct {
		name     string
		district string
		sector   string
		want     bool
	}{
		{name: "exact", district: "Gasabo", sector: "Kimironko", want: true},
		{name: "case", district: "GASABO", sector: "kimironko", want: true},
		{name: "whitespace", district: "  Gasabo ", sector: "Kimironko\t", want: true},
		{name: "other sector", district: "Gasabo", sector: "Remera", want: false},
		{name: "empty", district: "", sector: "", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := j.Matches(tc.district, tc.sector); got != tc.want {
				t.Fatalf("Matches(%q, %q) = %v, want %v", tc.district, tc.sector, got, tc.want)
			}
		})
	}

	if (Jurisdiction{}).Matches("", "") {
		t.Fatal("empty jurisdiction must not match")
	}
}

func TestFromRecord(t *testing.T) {
	account, err := FromRecord("acct_1", "Leader", "l@example.com", "approver", " Gasabo ", "Remera")
	if err != nil {
		t.Fatalf("from record: %v", err)
	}
	if account.Role() != rbac.RoleApprover {
		t.Fatalf("expected approver, got %s", account.Role())
	}
	j, ok := JurisdictionOf(account)
	if !ok || j.District != "Gasabo" || j.Sector != "Remera" {
		t.Fatalf("unexpected jurisdiction %+v ok=%v", j, ok)
	}

	operator, err := FromRecord("acct_2", "Burner", "", "operator", "", "")
	if err != nil {
		t.Fatalf("from record: %v", err)
	}
	if _, ok := JurisdictionOf(operator); ok {
		t.Fatal("operators carry no jurisdiction")
	}

	if _, err := FromRecord("acct_3", "X", "", "editor", "", ""); err == nil {
		t.Fatal("expected error for unknown role")
	}
}
