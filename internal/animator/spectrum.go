package animator

import "sync"

// SpectrumNode is an AnalysisNode fed by whoever owns playback. The
// renderer pushes a spectrum frame whenever it has one; the animator
// reads the latest frame each tick and tolerates stale or missing data.
type SpectrumNode struct {
	mu   sync.Mutex
	bins []byte
}

func NewSpectrumNode() *SpectrumNode {
	return &SpectrumNode{}
}

// Update replaces the current spectrum frame. Frames longer than
// BinCount are truncated; empty frames clear the node.
func (n *SpectrumNode) Update(bins []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(bins) == 0 {
		n.bins = nil
		return
	}
	if len(bins) > BinCount {
		bins = bins[:BinCount]
	}
	n.bins = append(n.bins[:0], bins...)
}

// Clear drops the held frame, e.g. when playback stops.
func (n *SpectrumNode) Clear() {
	n.Update(nil)
}

func (n *SpectrumNode) FrequencyData(dst []byte) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.bins) == 0 {
		return 0
	}
	return copy(dst, n.bins)
}
