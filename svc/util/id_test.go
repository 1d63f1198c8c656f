package util

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestIDGenLengthAndAlphabet(t *testing.T) {
	g, err := NewIDGen(DefaultIDLength)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 1000; i++ {
		id, err := g.Generate()
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if len(id) != DefaultIDLength {
			t.Fatalf("id %q has length %d", id, len(id))
		}
		for _, c := range id {
			if !strings.ContainsRune(base62Chars, c) {
				t.Fatalf("id %q contains %q outside base62", id, c)
			}
		}
		if !g.Plausible(id) {
			t.Fatalf("generated id %q not plausible", id)
		}
	}
}

func TestIDGenUnique(t *testing.T) {
	g, _ := NewIDGen(DefaultIDLength)
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id, err := g.Generate()
		if err != nil {
			t.Fatal(err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q after %d generations", id, i)
		}
		seen[id] = struct{}{}
	}
}

func TestIDGenRejectsBiasedBytes(t *testing.T) {
	// 255 and 250 are above the unbiased range and must be skipped.
	src := bytes.NewReader([]byte{255, 250, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19})
	g := &IDGen{length: 8, src: src}
	id, err := g.Generate()
	if err != nil {
		t.Fatal(err)
	}
	if id != "01234567" {
		t.Errorf("Generate = %q, want 01234567", id)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestIDGenEntropyFailure(t *testing.T) {
	g := &IDGen{length: 8, src: failingReader{}}
	if _, err := g.Generate(); err == nil {
		t.Fatal("expected error when entropy source fails")
	}
}

func TestNewIDGenBounds(t *testing.T) {
	if _, err := NewIDGen(MinIDLength - 1); err == nil {
		t.Error("expected error for short ids")
	}
	if _, err := NewIDGen(MaxIDLength + 1); err == nil {
		t.Error("expected error for long ids")
	}
}

func TestPlausible(t *testing.T) {
	g, _ := NewIDGen(8)
	for _, id := range []string{"", "abc", "abcdefg!", strings.Repeat("a", MaxIDLength+1), "../../et"} {
		if g.Plausible(id) {
			t.Errorf("Plausible(%q) = true", id)
		}
	}
	for _, id := range []string{"aZ09xY12", "aZ09xY12345"} {
		if !g.Plausible(id) {
			t.Errorf("Plausible(%q) = false", id)
		}
	}
}
