package main

import "sort"

// ParentState counts preferred-parent observations for one node
type ParentState struct {
	Samples    uint64
	Changes    uint64
	LastParent string
	hasLast    bool
}

// SwitchRate is changes per consecutive sample pair
func (p *ParentState) SwitchRate() float64 {
	if p.Samples <= 1 {
		return 0
	}
	return float64(p.Changes) / float64(p.Samples-1)
}

// ParentStabilityRow is one line of the parent-stability output
type ParentStabilityRow struct {
	Node       NodeID  `json:"nodeId"`
	Samples    uint64  `json:"parentSamples"`
	Changes    uint64  `json:"parentChanges"`
	SwitchRate float64 `json:"switchRate"`
}

// ParentTracker counts preferred-parent switches per node
type ParentTracker struct {
	nodes map[NodeID]*ParentState
}

// NewParentTracker creates an empty tracker
func NewParentTracker() *ParentTracker {
	return &ParentTracker{nodes: make(map[NodeID]*ParentState)}
}

// Observe records that node currently reports parent
func (t *ParentTracker) Observe(node NodeID, parent string) {
	st, ok := t.nodes[node]
	if !ok {
		st = &ParentState{}
		t.nodes[node] = st
	}
	st.Samples++
	if st.hasLast && st.LastParent != parent {
		st.Changes++
	}
	st.LastParent = parent
	st.hasLast = true
}

// State returns a copy of node's parent state
func (t *ParentTracker) State(node NodeID) (ParentState, bool) {
	st, ok := t.nodes[node]
	if !ok {
		return ParentState{}, false
	}
	return *st, true
}

// AggregateSwitchRate pools changes and sample pairs over all nodes
// before dividing, so busy nodes weigh more.
func (t *ParentTracker) AggregateSwitchRate() float64 {
	var changes, pairs uint64
	for _, st := range t.nodes {
		if st.Samples == 0 {
			continue
		}
		changes += st.Changes
		pairs += st.Samples - 1
	}
	if pairs == 0 {
		return 0
	}
	return float64(changes) / float64(pairs)
}

// Rows returns per-node switch rates ordered by node id
func (t *ParentTracker) Rows() []ParentStabilityRow {
	rows := make([]ParentStabilityRow, 0, len(t.nodes))
	for id, st := range t.nodes {
		rows = append(rows, ParentStabilityRow{
			Node:       id,
			Samples:    st.Samples,
			Changes:    st.Changes,
			SwitchRate: st.SwitchRate(),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Node < rows[j].Node })
	return rows
}
