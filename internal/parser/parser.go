// Package parser reads and writes note files: YAML frontmatter followed by a
// markdown body. Titles and excerpts are derived from the markdown AST.
package parser

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

const delim = "---"

// DefaultExcerptRunes bounds excerpts produced by Parse.
const DefaultExcerptRunes = 160

var md = goldmark.New()

// Frontmatter is the metadata block at the top of every note file.
type Frontmatter struct {
	ID         string    `yaml:"id"`
	Owner      string    `yaml:"owner"`
	Created    time.Time `yaml:"created"`
	Starred    bool      `yaml:"starred,omitempty"`
	Shared     bool      `yaml:"shared,omitempty"`
	ShareToken string    `yaml:"share_token,omitempty"`
	Tags       []string  `yaml:"tags,omitempty"`
}

// Result holds the output of parsing a note file.
type Result struct {
	Meta           Frontmatter
	HasFrontmatter bool
	Body           string
	Title          string
	Excerpt        string
}

// Parse splits data into frontmatter and body. A missing or invalid
// frontmatter block is not an error: the whole input becomes the body and
// HasFrontmatter is false.
func Parse(data []byte) (*Result, error) {
	block, body, ok := splitFrontmatter(data)
	res := &Result{Body: body}
	if ok {
		var meta Frontmatter
		if err := yaml.Unmarshal(block, &meta); err == nil {
			res.Meta = meta
			res.Meta.Tags = NormalizeTags(meta.Tags)
			res.HasFrontmatter = true
		} else {
			res.Body = string(data)
		}
	}
	res.Title, res.Excerpt = Summarize(res.Body, DefaultExcerptRunes)
	return res, nil
}

// Encode renders meta and body as a note file.
func Encode(meta Frontmatter, body string) ([]byte, error) {
	meta.Tags = NormalizeTags(meta.Tags)
	head, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("parser: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(delim + "\n")
	buf.Write(head)
	buf.WriteString(delim + "\n")
	buf.WriteString(body)
	if body != "" && !strings.HasSuffix(body, "\n") {
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// splitFrontmatter separates the YAML block between leading --- delimiters
// from the body.
func splitFrontmatter(data []byte) ([]byte, string, bool) {
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), false
	}
	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), false
	}
	block := rest[:idx]
	after := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(after), "\n\r")
	return block, body, true
}

// NormalizeTags trims labels, drops empty ones and removes duplicates while
// preserving the order they were given in.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "#"))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Summarize returns the first heading of body as the title and up to
// maxRunes of plain paragraph text as the excerpt.
func Summarize(body string, maxRunes int) (title, excerpt string) {
	src := []byte(body)
	doc := md.Parser().Parse(text.NewReader(src))

	var sb strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			if title == "" {
				title = strings.TrimSpace(plainText(node, src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph:
			if utf8.RuneCountInString(sb.String()) < maxRunes {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(strings.TrimSpace(plainText(node, src)))
			}
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return title, truncate(strings.Join(strings.Fields(sb.String()), " "), maxRunes)
}

func plainText(n ast.Node, src []byte) string {
	var sb strings.Builder
	collectText(n, src, &sb)
	return sb.String()
}

func collectText(n ast.Node, src []byte, sb *strings.Builder) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		case *ast.Image:
			// Alt text only.
			collectText(t, src, sb)
		default:
			collectText(c, src, sb)
		}
	}
}

func truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:maxRunes])) + "…"
}
