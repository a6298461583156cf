package main

import (
	"fmt"
	"math"
	"sort"
)

// TrustScale is the fixed-point scale of the quantized trust value
const TrustScale = 1000.0

// TrustMetric names the estimator reported as a node's trust
type TrustMetric string

const (
	MetricEWMA  TrustMetric = "ewma"
	MetricBayes TrustMetric = "bayes"
	MetricBeta  TrustMetric = "beta"
)

// ParseTrustMetric validates a metric name
func ParseTrustMetric(s string) (TrustMetric, error) {
	switch m := TrustMetric(s); m {
	case MetricEWMA, MetricBayes, MetricBeta:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
}

// TrustParams are the estimator weights and blacklist thresholds
type TrustParams struct {
	Metric TrustMetric
	// Alpha is the weight kept on the previous EWMA value.
	Alpha            float64
	BetaA            float64
	BetaB            float64
	EWMAMin          float64
	BayesMin         float64
	BetaMin          float64
	FwdDropThreshold float64
}

// NodePhase is the per-node trust lifecycle. PhaseBlacklisted is absorbing.
type NodePhase int

const (
	PhaseUnobserved NodePhase = iota
	PhaseTrusted
	PhaseBlacklisted
)

func (p NodePhase) String() string {
	switch p {
	case PhaseTrusted:
		return "trusted"
	case PhaseBlacklisted:
		return "blacklisted"
	default:
		return "unobserved"
	}
}

// NodeTrustState is everything the tracker remembers about one relay
type NodeTrustState struct {
	Phase NodePhase

	EWMA float64
	Succ uint64
	Fail uint64

	LastUDPToRoot uint64
	LastDropped   uint64

	// Last computed outputs, kept for summaries.
	Bayes float64
	Beta  float64
	Trust float64
}

// Seen reports whether the EWMA has been initialised
func (s *NodeTrustState) Seen() bool {
	return s.Phase != PhaseUnobserved
}

// TrustUpdate is the outcome of one FWD report
type TrustUpdate struct {
	Node NodeID

	DeltaUDP     uint64
	DeltaDropped uint64
	DeltaSuccess uint64

	// Observed is false when the report carried no new forwarded packets;
	// nothing below it is meaningful in that case.
	Observed bool

	EWMA    float64
	Bayes   float64
	BetaEst float64
	Beta    float64

	Trust            float64
	QuantizedTrust   uint16
	Blacklisted      bool
	NewlyBlacklisted bool
}

// Blacklist is an insertion-only set of node ids
type Blacklist struct {
	members map[NodeID]struct{}
}

// NewBlacklist creates an empty blacklist
func NewBlacklist() *Blacklist {
	return &Blacklist{members: make(map[NodeID]struct{})}
}

// Add inserts id and reports whether it was not already present
func (b *Blacklist) Add(id NodeID) bool {
	if _, ok := b.members[id]; ok {
		return false
	}
	b.members[id] = struct{}{}
	return true
}

// Contains reports whether id has been blacklisted
func (b *Blacklist) Contains(id NodeID) bool {
	_, ok := b.members[id]
	return ok
}

// Len returns the number of blacklisted nodes
func (b *Blacklist) Len() int {
	return len(b.members)
}

// Members returns the blacklisted ids in ascending order
func (b *Blacklist) Members() []NodeID {
	ids := make([]NodeID, 0, len(b.members))
	for id := range b.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// BetaMean is the posterior mean of Beta(a, b) after succ successes and fail failures
func BetaMean(a, b float64, succ, fail uint64) float64 {
	s, f := float64(succ), float64(fail)
	return (a + s) / (a + b + s + f)
}

// LaplaceEstimate is the add-one smoothed success ratio
func LaplaceEstimate(succ, fail uint64) float64 {
	s, f := float64(succ), float64(fail)
	return (1 + s) / (2 + s + f)
}

// EWMAStep folds sample into prev keeping alpha of prev
func EWMAStep(alpha, prev, sample float64) float64 {
	return alpha*prev + (1-alpha)*sample
}

// QuantizeTrust maps a trust value in [0,1] onto the integer trust scale
func QuantizeTrust(v float64) uint16 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return uint16(TrustScale)
	}
	return uint16(math.Round(v * TrustScale))
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

// TrustTracker maintains per-node estimators and the blacklist latch.
// It is not safe for concurrent use; the engine owns it.
type TrustTracker struct {
	params    TrustParams
	states    map[NodeID]*NodeTrustState
	blacklist *Blacklist
}

// NewTrustTracker creates a tracker with the given parameters
func NewTrustTracker(params TrustParams) *TrustTracker {
	if params.Metric == "" {
		params.Metric = MetricEWMA
	}
	return &TrustTracker{
		params:    params,
		states:    make(map[NodeID]*NodeTrustState),
		blacklist: NewBlacklist(),
	}
}

// Observe folds a cumulative (udp_to_root, dropped) report from node
func (t *TrustTracker) Observe(node NodeID, udpToRoot, dropped uint64) TrustUpdate {
	st, ok := t.states[node]
	if !ok {
		st = &NodeTrustState{}
		t.states[node] = st
	}

	up := TrustUpdate{
		Node:         node,
		DeltaUDP:     saturatingSub(udpToRoot, st.LastUDPToRoot),
		DeltaDropped: saturatingSub(dropped, st.LastDropped),
	}
	st.LastUDPToRoot = udpToRoot
	st.LastDropped = dropped

	if up.DeltaUDP == 0 {
		up.Blacklisted = t.blacklist.Contains(node)
		return up
	}
	up.Observed = true

	up.DeltaSuccess = saturatingSub(up.DeltaUDP, up.DeltaDropped)
	st.Succ += up.DeltaSuccess
	st.Fail += up.DeltaDropped

	p := t.params
	up.BetaEst = BetaMean(p.BetaA, p.BetaB, st.Succ, st.Fail)
	up.Bayes = LaplaceEstimate(st.Succ, st.Fail)
	if st.Phase == PhaseUnobserved {
		st.EWMA = up.BetaEst
		st.Phase = PhaseTrusted
	} else {
		st.EWMA = EWMAStep(p.Alpha, st.EWMA, up.BetaEst)
	}
	up.EWMA = st.EWMA
	up.Beta = up.BetaEst

	if st.Phase != PhaseBlacklisted && t.violates(up) {
		t.blacklist.Add(node)
		st.Phase = PhaseBlacklisted
		up.NewlyBlacklisted = true
	}
	up.Blacklisted = st.Phase == PhaseBlacklisted

	if up.Blacklisted {
		up.Trust = 0
	} else {
		up.Trust = t.selectMetric(up)
	}
	up.QuantizedTrust = QuantizeTrust(up.Trust)

	st.Bayes = up.Bayes
	st.Beta = up.Beta
	st.Trust = up.Trust
	return up
}

func (t *TrustTracker) violates(up TrustUpdate) bool {
	p := t.params
	return up.BetaEst <= 1-p.FwdDropThreshold ||
		up.EWMA < p.EWMAMin ||
		up.Bayes < p.BayesMin ||
		up.Beta < p.BetaMin
}

func (t *TrustTracker) selectMetric(up TrustUpdate) float64 {
	switch t.params.Metric {
	case MetricBayes:
		return up.Bayes
	case MetricBeta:
		return up.BetaEst
	default:
		return up.EWMA
	}
}

// State returns a copy of node's state
func (t *TrustTracker) State(node NodeID) (NodeTrustState, bool) {
	st, ok := t.states[node]
	if !ok {
		return NodeTrustState{}, false
	}
	return *st, true
}

// IsBlacklisted reports whether node has been latched out
func (t *TrustTracker) IsBlacklisted(node NodeID) bool {
	return t.blacklist.Contains(node)
}

// Blacklist exposes the latched set
func (t *TrustTracker) Blacklist() *Blacklist {
	return t.blacklist
}

// Nodes returns every tracked node id in ascending order
func (t *TrustTracker) Nodes() []NodeID {
	ids := make([]NodeID, 0, len(t.states))
	for id := range t.states {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
