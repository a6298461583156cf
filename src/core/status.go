package main

import (
	"sort"
	"sync"
	"time"
)

// NodeStatus is the published view of one relay
type NodeStatus struct {
	Node        NodeID  `json:"nodeId"`
	Phase       string  `json:"phase"`
	EWMA        float64 `json:"ewma"`
	Bayes       float64 `json:"bayes"`
	Beta        float64 `json:"beta"`
	Trust       float64 `json:"trust"`
	Success     uint64  `json:"success"`
	Failed      uint64  `json:"failed"`
	Blacklisted bool    `json:"blacklisted"`
}

// ExposureStatus is the published exposure view
type ExposureStatus struct {
	ExposureSnapshot
	PDR              float64 `json:"pdr"`
	ParentSwitchRate float64 `json:"parentSwitchRate"`
}

// StatusBoard holds the latest state published by the engine. The engine
// writes, HTTP handlers read; it is the only state shared between
// goroutines.
type StatusBoard struct {
	mu       sync.RWMutex
	runID    string
	started  time.Time
	lines    uint64
	finished bool
	nodes    map[NodeID]NodeStatus
	exposure ExposureStatus
}

// NewStatusBoard creates an empty board for runID
func NewStatusBoard(runID string) *StatusBoard {
	return &StatusBoard{
		runID:   runID,
		started: time.Now(),
		nodes:   make(map[NodeID]NodeStatus),
	}
}

// PublishNode replaces the published view of one node
func (b *StatusBoard) PublishNode(ns NodeStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes[ns.Node] = ns
}

// PublishExposure replaces the exposure view and line count
func (b *StatusBoard) PublishExposure(es ExposureStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exposure = es
	b.lines = es.Line
}

// MarkFinished records that the input stream ended
func (b *StatusBoard) MarkFinished(lines uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finished = true
	b.lines = lines
}

// RunID returns the run identifier
func (b *StatusBoard) RunID() string {
	return b.runID
}

// Health returns line count, uptime and whether the run is over
func (b *StatusBoard) Health() (lines uint64, uptime time.Duration, finished bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lines, time.Since(b.started), b.finished
}

// Nodes returns every published node ordered by id
func (b *StatusBoard) Nodes() []NodeStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]NodeStatus, 0, len(b.nodes))
	for _, ns := range b.nodes {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node < out[j].Node })
	return out
}

// Node returns one published node
func (b *StatusBoard) Node(id NodeID) (NodeStatus, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ns, ok := b.nodes[id]
	return ns, ok
}

// Blacklisted returns the ids of published blacklisted nodes
func (b *StatusBoard) Blacklisted() []NodeID {
	ids := []NodeID{}
	for _, ns := range b.Nodes() {
		if ns.Blacklisted {
			ids = append(ids, ns.Node)
		}
	}
	return ids
}

// Exposure returns the last published exposure view
func (b *StatusBoard) Exposure() ExposureStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.exposure
}
