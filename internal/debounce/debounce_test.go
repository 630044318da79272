package debounce

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sink struct {
	mu   sync.Mutex
	got  []string
	once chan struct{}
}

func newSink() *sink { return &sink{once: make(chan struct{}, 16)} }

func (s *sink) emit(v string) {
	s.mu.Lock()
	s.got = append(s.got, v)
	s.mu.Unlock()
	s.once <- struct{}{}
}

func (s *sink) values() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.got...)
}

func TestRapidInputEmitsOnlyLastValue(t *testing.T) {
	s := newSink()
	d := New(500*time.Millisecond, s.emit)
	defer d.Close()

	for _, v := range []string{"a", "ab", "abc"} {
		d.Push(v)
		time.Sleep(100 * time.Millisecond)
	}

	select {
	case <-s.once:
	case <-time.After(2 * time.Second):
		t.Fatal("no emission")
	}
	// Give a hypothetical second emission time to show up.
	time.Sleep(600 * time.Millisecond)
	require.Equal(t, []string{"abc"}, s.values())
}

func TestEmitsAfterQuietPeriod(t *testing.T) {
	s := newSink()
	d := New(30*time.Millisecond, s.emit)
	defer d.Close()

	start := time.Now()
	d.Push("x")
	require.True(t, d.Pending())

	<-s.once
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	require.False(t, d.Pending())

	d.Push("y")
	<-s.once
	require.Equal(t, []string{"x", "y"}, s.values())
}

func TestCloseCancelsPendingEmission(t *testing.T) {
	s := newSink()
	d := New(30*time.Millisecond, s.emit)

	d.Push("never")
	d.Close()
	require.False(t, d.Pending())

	time.Sleep(100 * time.Millisecond)
	require.Empty(t, s.values())

	// Push after Close is ignored.
	d.Push("late")
	time.Sleep(100 * time.Millisecond)
	require.Empty(t, s.values())
}

func TestDefaultDelay(t *testing.T) {
	d := New[int](0, func(int) {})
	require.Equal(t, DefaultDelay, d.delay)
}
