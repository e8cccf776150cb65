package raft

import (
	"sort"

	"golang.org/x/exp/slices"
)

// minUint64 wraps slices.Min (golang.org/x/exp/slices predates the Go
// 1.21 min/max builtins and is what the rest of this module's
// dependency graph already pulls in) for the handful of two-argument
// comparisons scattered through commit and replication bookkeeping.
func minUint64(a, b uint64) uint64 {
	return slices.Min([]uint64{a, b})
}

// sortedPeerIDs returns the peer IDs of a cluster membership map in
// ascending order, so that quorum-counting loops and logs iterate
// peers in a deterministic sequence instead of Go's randomized map
// order.
func sortedPeerIDs(peers map[string]string) []string {
	ids := make([]string, 0, len(peers))
	for id := range peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// majority returns the strict majority threshold ⌈(n+1)/2⌉ for a
// cluster of n members.
func majority(n int) int {
	return (n + 2) / 2
}
