package verifier

// pruneCache holds, per basic block, the abstract states already proven safe
// at that block's entry. A newly arriving state subsumed by a cached one
// cannot exhibit any behavior the cached exploration did not cover, so the
// branch is cut.
type pruneCache struct {
	states map[int][]*State
}

func newPruneCache() *pruneCache {
	return &pruneCache{states: make(map[int][]*State)}
}

// subsumed reports whether cand is covered by a state already cached for the
// block.
func (pc *pruneCache) subsumed(block int, cand *State) bool {
	for _, old := range pc.states[block] {
		if cand.SubsumedBy(old) {
			return true
		}
	}
	return false
}

// hasEqual reports whether an exactly equal state is already cached for the
// block. Arriving at a loop head via a back edge with an unchanged state
// means the loop made no abstract progress.
func (pc *pruneCache) hasEqual(block int, cand *State) bool {
	for _, old := range pc.states[block] {
		if cand.Equal(old) {
			return true
		}
	}
	return false
}

// insert records a state as proven-safe-in-progress at the block entry.
// Dominated cache entries are dropped so per-block lists stay short.
func (pc *pruneCache) insert(block int, s *State) {
	kept := pc.states[block][:0]
	for _, old := range pc.states[block] {
		if !old.SubsumedBy(s) {
			kept = append(kept, old)
		}
	}
	pc.states[block] = append(kept, s)
}
