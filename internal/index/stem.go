package index

import (
	"strings"

	"github.com/kljensen/snowball/english"
)

// stemWords lower-cases and Porter-stems each word so "fractures" and
// "fractured" meet on "fractur".
func stemWords(words []string) []string {
	out := make([]string, 0, len(words))
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		s := english.Stem(strings.ToLower(w), true)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
