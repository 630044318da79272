package index

import (
	"strings"
	"testing"
)

func TestBuildListQuery_FiltersAndArgs(t *testing.T) {
	query, args := buildListQuery(ListQuery{ViewerID: "u1", OwnerID: "u1", Tag: " cardio ", Limit: 10})

	for _, frag := range []string{
		"(n.owner = ? OR n.shared = 1)",
		"n.owner = ?",
		"t.tag = ?",
		"ORDER BY n.created_at DESC, n.id ASC",
		"LIMIT ?",
	} {
		if !strings.Contains(query, frag) {
			t.Errorf("query missing %q:\n%s", frag, query)
		}
	}
	want := []any{"u1", "u1", "cardio", 10}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %v, want %v", i, args[i], want[i])
		}
	}
}

func TestBuildListQuery_NoFilters(t *testing.T) {
	query, args := buildListQuery(ListQuery{})
	if strings.Contains(query, "WHERE") {
		t.Errorf("unexpected WHERE in %s", query)
	}
	if len(args) != 1 || args[0] != DefaultLimit {
		t.Errorf("args = %v, want [%d]", args, DefaultLimit)
	}
}

func TestBuildListQuery_LimitClamped(t *testing.T) {
	_, args := buildListQuery(ListQuery{Limit: MaxLimit + 1})
	if args[len(args)-1] != MaxLimit {
		t.Errorf("limit = %v, want %d", args[len(args)-1], MaxLimit)
	}
}

func TestSearchWords_DropsOperators(t *testing.T) {
	got := searchWords(`chest "pain" OR -x* (ecg)`)
	want := []string{"chest", "pain", "OR", "x", "ecg"}
	if len(got) != len(want) {
		t.Fatalf("words = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("words[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if q := ftsQuery(got[:2]); q != `"chest" "pain"` {
		t.Errorf("ftsQuery = %s", q)
	}
}

func TestBuildListQuery_BlankTermIgnored(t *testing.T) {
	q1, a1 := buildListQuery(ListQuery{Term: "  ?! "})
	q2, a2 := buildListQuery(ListQuery{})
	if q1 != q2 || len(a1) != len(a2) {
		t.Errorf("punctuation-only term changed the query:\n%s\n%s", q1, q2)
	}
}
