package cache

import (
	"container/list"
)

type LRUOpts struct {
	Size int
}

type entry[K comparable, V any] struct {
	key K
	val V
}

// LRU is a bounded map that evicts the least recently used key. It does no
// locking; the Store serializes access to it.
type LRU[K comparable, V any] struct {
	size  int
	ll    *list.List
	items map[K]*list.Element
}

func NewLRU[K comparable, V any](opts LRUOpts) *LRU[K, V] {
	if opts.Size <= 0 {
		opts.Size = 128
	}
	return &LRU[K, V]{
		size:  opts.Size,
		ll:    list.New(),
		items: make(map[K]*list.Element),
	}
}

func (l *LRU[K, V]) Get(key K) (v V, ok bool) {
	ele, ok := l.items[key]
	if !ok {
		return v, false
	}
	l.ll.MoveToFront(ele)
	return ele.Value.(*entry[K, V]).val, true
}

// Peek returns the value without promoting it.
func (l *LRU[K, V]) Peek(key K) (v V, ok bool) {
	ele, ok := l.items[key]
	if !ok {
		return v, false
	}
	return ele.Value.(*entry[K, V]).val, true
}

// Put stores val and reports whether another key was evicted to make room.
func (l *LRU[K, V]) Put(key K, val V) (evicted bool) {
	if ele, ok := l.items[key]; ok {
		l.ll.MoveToFront(ele)
		ele.Value.(*entry[K, V]).val = val
		return false
	}
	l.items[key] = l.ll.PushFront(&entry[K, V]{key: key, val: val})
	if l.ll.Len() <= l.size {
		return false
	}
	if last := l.ll.Back(); last != nil {
		l.ll.Remove(last)
		delete(l.items, last.Value.(*entry[K, V]).key)
	}
	return true
}

func (l *LRU[K, V]) Delete(key K) {
	if ele, ok := l.items[key]; ok {
		l.ll.Remove(ele)
		delete(l.items, key)
	}
}

func (l *LRU[K, V]) Len() int { return l.ll.Len() }

// Values returns the values from most to least recently used.
func (l *LRU[K, V]) Values() []V {
	out := make([]V, 0, l.ll.Len())
	for ele := l.ll.Front(); ele != nil; ele = ele.Next() {
		out = append(out, ele.Value.(*entry[K, V]).val)
	}
	return out
}
