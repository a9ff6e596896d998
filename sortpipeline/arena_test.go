package sortpipeline

import (
	"bufio"
	"bytes"
	"errors"
	"testing"
)

func TestArenaAppendAndLine(t *testing.T) {
	a, err := NewArena(4096)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer a.Close()

	if err := a.Append(0, 100, []byte("first line")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := a.Append(1, 50, []byte("second line")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if a.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", a.Len())
	}
	if got := string(a.Line(0)); got != "first line" {
		t.Errorf("Line(0) = %q, want %q", got, "first line")
	}
	if got := string(a.Line(1)); got != "second line" {
		t.Errorf("Line(1) = %q, want %q", got, "second line")
	}
}

func TestArenaSortOrdersByKeyThenArrival(t *testing.T) {
	a, err := NewArena(4096)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer a.Close()

	entries := []struct {
		arrival int64
		key     uint64
		line    string
	}{
		{0, 300, "c"},
		{1, 100, "a1"},
		{2, 100, "a2"}, // same key as a1, arrives later -> must stay after it
		{3, 200, "b"},
	}
	for _, e := range entries {
		if err := a.Append(e.arrival, e.key, []byte(e.line)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	a.Sort()

	var got []string
	for i := 0; i < a.Len(); i++ {
		got = append(got, string(a.Line(i)))
	}
	want := []string{"a1", "a2", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestArenaAppendOverflow(t *testing.T) {
	a, err := NewArena(4096) // NewArena enforces a 4096-byte minimum
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer a.Close()

	big := make([]byte, 5000)
	err = a.Append(0, 1, big)
	if err == nil {
		t.Fatal("expected an ArenaOverflowError")
	}
	var overflow *ArenaOverflowError
	if !errors.As(err, &overflow) {
		t.Errorf("expected *ArenaOverflowError, got %T", err)
	}
}

func TestArenaWriteSortedTo(t *testing.T) {
	a, err := NewArena(4096)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer a.Close()

	_ = a.Append(0, 20, []byte("second"))
	_ = a.Append(1, 10, []byte("first"))
	a.Sort()

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	if err := a.WriteSortedTo(w); err != nil {
		t.Fatalf("WriteSortedTo: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	want := "first\nsecond\n"
	if buf.String() != want {
		t.Errorf("WriteSortedTo output = %q, want %q", buf.String(), want)
	}
}
