package main

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/starford/carenotes/internal/apperr"
	"github.com/starford/carenotes/internal/feed"
	"github.com/starford/carenotes/internal/feedview"
	"github.com/starford/carenotes/internal/mediaurl"
)

func TestParseTags(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty string", input: "", expected: nil},
		{name: "blank", input: "  ", expected: nil},
		{name: "single tag", input: "cardio", expected: []string{"cardio"}},
		{name: "multiple tags", input: "cardio,ward-3,icu", expected: []string{"cardio", "ward-3", "icu"}},
		{name: "spaces and empties", input: " cardio , ,icu,", expected: []string{"cardio", "icu"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseTags(tt.input); !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("parseTags(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestExplain(t *testing.T) {
	if explain(nil) != nil {
		t.Fatal("explain(nil) should be nil")
	}
	tests := []struct {
		err  error
		want string
	}{
		{apperr.Authorization("list notes", apperr.ErrUnauthorized), "session expired or invalid, run: carenotes login"},
		{apperr.Authorization("get note", nil), "not found or not yours"},
		{apperr.Validation("create note", errors.New("content cannot be blank")), "content cannot be blank"},
		{apperr.Transient("list notes", errors.New("dial tcp: refused")), "could not reach the server, try again"},
	}
	for _, tt := range tests {
		if got := explain(tt.err).Error(); got != tt.want {
			t.Errorf("explain(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestExplainInput(t *testing.T) {
	err := feedview.New(&strings.Builder{}, nil).Handle("bogus")
	if got := explainInput(err); !strings.Contains(got, "open N") {
		t.Errorf("missing hint in %q", got)
	}
	plain := errors.New("no row 9")
	if got := explainInput(plain); got != "no row 9" {
		t.Errorf("explainInput = %q", got)
	}
}

type echoSigner struct{}

func (echoSigner) SignURL(_ context.Context, path string, _ time.Duration) (string, error) {
	return "https://media.test/" + path, nil
}

func TestEndSessionForgetsCachedData(t *testing.T) {
	cache := feed.NewSessionCache()
	if err := cache.Save(feed.Filter{}, feed.Snapshot{{ID: "n1"}}); err != nil {
		t.Fatal(err)
	}
	media := mediaurl.New(echoSigner{})
	if _, ok := media.Resolve(context.Background(), "attachments/n1/a.png"); !ok {
		t.Fatal("resolve failed")
	}

	endSession(cache, media)

	if cache.Len() != 0 {
		t.Errorf("session cache has %d entries after sign-out", cache.Len())
	}
	if media.Len() != 0 {
		t.Errorf("media cache has %d entries after sign-out", media.Len())
	}
}
