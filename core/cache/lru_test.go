package cache

import (
	"fmt"
	"testing"
)

func TestLRU_Basic(t *testing.T) {
	l := NewLRU[string, int](LRUOpts{Size: 2})

	l.Put("a", 1)
	l.Put("b", 2)

	val, ok := l.Get("a")
	if !ok || val != 1 {
		t.Errorf("expected a=1, got %v, %v", val, ok)
	}

	if !l.Put("c", 3) { // evicts "b"
		t.Errorf("expected an eviction")
	}

	if _, ok = l.Get("b"); ok {
		t.Errorf("expected b to be evicted")
	}

	val, ok = l.Get("c")
	if !ok || val != 3 {
		t.Errorf("expected c=3, got %v, %v", val, ok)
	}
}

func TestLRU_Update(t *testing.T) {
	l := NewLRU[string, int](LRUOpts{Size: 2})

	l.Put("a", 1)
	if l.Put("a", 2) {
		t.Errorf("update must not evict")
	}

	val, ok := l.Get("a")
	if !ok || val != 2 {
		t.Errorf("expected a=2, got %v, %v", val, ok)
	}
	if l.Len() != 1 {
		t.Errorf("expected len 1, got %d", l.Len())
	}
}

func TestLRU_PeekDoesNotPromote(t *testing.T) {
	l := NewLRU[string, int](LRUOpts{Size: 2})

	l.Put("a", 1)
	l.Put("b", 2)
	l.Peek("a")
	l.Put("c", 3)

	if _, ok := l.Get("a"); ok {
		t.Errorf("expected a to be evicted")
	}
}

func TestLRU_Promotion(t *testing.T) {
	l := NewLRU[string, int](LRUOpts{Size: 2})

	l.Put("a", 1)
	l.Put("b", 2)

	// Promote "a"
	l.Get("a")

	l.Put("c", 3)

	if _, ok := l.Get("b"); ok {
		t.Errorf("expected b to be evicted")
	}
	if _, ok := l.Get("a"); !ok {
		t.Errorf("expected a to be present")
	}
	if got := l.Values(); fmt.Sprint(got) != "[1 3]" {
		t.Errorf("expected [1 3], got %v", got)
	}
}

func TestLRU_Delete(t *testing.T) {
	l := NewLRU[string, int](LRUOpts{Size: 2})

	l.Put("a", 1)
	l.Put("b", 2)

	l.Delete("a")

	if _, ok := l.Get("a"); ok {
		t.Errorf("expected a to be deleted")
	}

	val, ok := l.Get("b")
	if !ok || val != 2 {
		t.Errorf("expected b=2, got %v, %v", val, ok)
	}

	// Delete non-existent key should not panic
	l.Delete("nonexistent")
}

func TestLRU_DefaultSize(t *testing.T) {
	l := NewLRU[int, int](LRUOpts{})

	for i := 0; i < 128; i++ {
		l.Put(i, i)
	}
	if _, ok := l.Peek(0); !ok {
		t.Errorf("expected first key to be present at size 128")
	}

	l.Put(999, 999)
	if _, ok := l.Peek(0); ok {
		t.Errorf("expected oldest key to be evicted")
	}
}
