package hrw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwned_PartitionsShards(t *testing.T) {
	nodes := []string{"a", "b", "c"}
	seen := map[int]string{}
	for _, n := range nodes {
		for _, id := range Owned(64, nodes, n, "test") {
			prev, dup := seen[id]
			require.False(t, dup, "shard %d owned by %s and %s", id, prev, n)
			seen[id] = n
		}
	}
	assert.Len(t, seen, 64)
}

func TestOwned_NoNodes(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2}, Owned(3, nil, "x", ""))
}

func TestBest_StableWhenNodeLeaves(t *testing.T) {
	nodes := []string{"a", "b", "c", "d"}
	moved := 0
	for id := range 100 {
		key := string(rune('A' + id))
		before, _ := Best(key, nodes, "")
		after, _ := Best(key, nodes[:3], "")
		if before != "d" && before != after {
			moved++
		}
	}
	assert.Zero(t, moved, "only keys of the removed node move")

	_, ok := Best("k", nil, "")
	assert.False(t, ok)
}
