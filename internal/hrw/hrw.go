// Package hrw assigns shards to nodes with rendezvous hashing, so each node
// of a deployment can work out which shards it runs without coordination.
package hrw

import (
	"encoding/binary"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// Best returns the node with the highest score for key. ok is false if
// nodes is empty.
func Best(key string, nodes []string, seed string) (best string, ok bool) {
	var top uint64
	for _, n := range nodes {
		if s := score([]byte(key), n, seed); !ok || s > top {
			best, top, ok = n, s, true
		}
	}
	return best, ok
}

// Owned returns the shard ids in [0,total) that self wins. With no nodes
// every shard is owned.
func Owned(total int, nodes []string, self, seed string) []int {
	out := make([]int, 0, total)
	for id := range total {
		if len(nodes) == 0 {
			out = append(out, id)
			continue
		}
		if best, _ := Best(strconv.Itoa(id), nodes, seed); best == self {
			out = append(out, id)
		}
	}
	return out
}

func score(key []byte, nodeID string, seed string) uint64 {
	h, _ := blake2b.New(8, nil)
	if seed != "" {
		h.Write([]byte(seed))
		h.Write([]byte{0})
	}
	h.Write(key)
	h.Write([]byte{0})
	h.Write([]byte(nodeID))
	return binary.BigEndian.Uint64(h.Sum(nil))
}
