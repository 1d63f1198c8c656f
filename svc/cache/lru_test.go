package cache

import (
	"sharebin/pkg/domain"
	"testing"
	"time"
)

func TestLRUGetSet(t *testing.T) {
	l, err := NewLRU(10)
	if err != nil {
		t.Fatal(err)
	}
	created := time.Now()
	l.Set("abc", created, domain.Content{Kind: domain.KindText, Text: "hello"})
	c, ok := l.Get("abc", created)
	if !ok || c.Text != "hello" {
		t.Fatalf("Get = %+v, %v", c, ok)
	}
	if _, ok := l.Get("missing", created); ok {
		t.Error("Get on missing id returned content")
	}
}

func TestLRUReusedIDMisses(t *testing.T) {
	l, _ := NewLRU(10)
	created := time.Now()
	l.Set("abc", created, domain.Content{Kind: domain.KindText, Text: "old"})
	if _, ok := l.Get("abc", created.Add(time.Nanosecond)); ok {
		t.Error("content cached for an older entry must not be served")
	}
}

func TestLRUSkipsLargeItems(t *testing.T) {
	l, _ := NewLRU(10)
	l.maxItemBytes = 4
	now := time.Now()
	l.Set("big", now, domain.Content{Kind: domain.KindFile, Data: []byte("12345")})
	if l.Len() != 0 {
		t.Error("oversized item was cached")
	}
}

func TestLRUEvictsOldest(t *testing.T) {
	l, _ := NewLRU(2)
	now := time.Now()
	l.Set("a", now, domain.Content{Text: "a"})
	l.Set("b", now, domain.Content{Text: "b"})
	l.Set("c", now, domain.Content{Text: "c"})
	if _, ok := l.Get("a", now); ok {
		t.Error("oldest item should have been evicted")
	}
	l.Delete("b")
	if _, ok := l.Get("b", now); ok {
		t.Error("deleted item still cached")
	}
}

func TestNewLRUBounds(t *testing.T) {
	if _, err := NewLRU(0); err == nil {
		t.Error("expected error for zero size")
	}
	if _, err := NewLRU(100001); err == nil {
		t.Error("expected error for oversized cache")
	}
}
