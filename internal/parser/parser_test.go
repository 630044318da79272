package parser

import (
	"strings"
	"testing"
	"time"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\nid: 01HX\nowner: u1\ncreated: 2024-05-01T10:00:00Z\nstarred: true\ntags:\n  - cardio\n  - ward-3\n---\n# Rounds\nPatient stable.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.HasFrontmatter {
		t.Fatal("expected frontmatter")
	}
	if r.Meta.ID != "01HX" || r.Meta.Owner != "u1" || !r.Meta.Starred {
		t.Errorf("meta = %+v", r.Meta)
	}
	if len(r.Meta.Tags) != 2 || r.Meta.Tags[0] != "cardio" || r.Meta.Tags[1] != "ward-3" {
		t.Errorf("tags = %v, want [cardio ward-3]", r.Meta.Tags)
	}
	if r.Body != "# Rounds\nPatient stable.\n" {
		t.Errorf("body = %q", r.Body)
	}
	if r.Title != "Rounds" {
		t.Errorf("title = %q, want Rounds", r.Title)
	}
	if r.Excerpt != "Patient stable." {
		t.Errorf("excerpt = %q", r.Excerpt)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	r, err := Parse([]byte("Just text.\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.HasFrontmatter {
		t.Error("expected no frontmatter")
	}
	if r.Body != "Just text.\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	input := []byte("---\n: invalid: yaml: {{{\n---\nBody\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.HasFrontmatter {
		t.Error("expected invalid YAML to be treated as body")
	}
	if r.Body != string(input) {
		t.Errorf("body = %q", r.Body)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	data, err := Encode(Frontmatter{ID: "01HX", Owner: "u1", Created: created, Tags: []string{" a ", "a", "#b"}}, "hello")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.HasPrefix(string(data), "---\n") || !strings.HasSuffix(string(data), "hello\n") {
		t.Errorf("encoded = %q", data)
	}
	r, _ := Parse(data)
	if !r.Meta.Created.Equal(created) {
		t.Errorf("created = %v", r.Meta.Created)
	}
	if len(r.Meta.Tags) != 2 || r.Meta.Tags[0] != "a" || r.Meta.Tags[1] != "b" {
		t.Errorf("tags = %v", r.Meta.Tags)
	}
	if r.Body != "hello\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestSummarize_SkipsCodeAndTruncates(t *testing.T) {
	body := "Intro *emphasis* and `code`.\n\n```\nsecret block\n```\n\nSecond paragraph that is fairly long."
	title, excerpt := Summarize(body, 30)
	if title != "" {
		t.Errorf("title = %q, want empty", title)
	}
	if strings.Contains(excerpt, "secret") {
		t.Errorf("excerpt leaked code block: %q", excerpt)
	}
	if !strings.HasPrefix(excerpt, "Intro emphasis and code.") {
		t.Errorf("excerpt = %q", excerpt)
	}
	if !strings.HasSuffix(excerpt, "…") {
		t.Errorf("expected truncation marker in %q", excerpt)
	}
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{"", "  x", "#x", "y", " "})
	if len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Errorf("NormalizeTags = %v", got)
	}
}
