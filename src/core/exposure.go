package main

// ExposureSnapshot is one row of the exposure and stats outputs
type ExposureSnapshot struct {
	Line               uint64  `json:"line"`
	TxTotal            uint64  `json:"txTotal"`
	AttackerUDPTotal   uint64  `json:"attackerUdpTotal"`
	AttackerUDPDropped uint64  `json:"attackerUdpDropped"`
	ParentSamples      uint64  `json:"parentSamples"`
	ParentAttacker     uint64  `json:"parentAttackerSamples"`
	E1                 float64 `json:"e1"`
	E1Num              uint64  `json:"e1Num"`
	E1Den              uint64  `json:"e1Den"`
	E3                 float64 `json:"e3"`
	E3Num              uint64  `json:"e3Num"`
	E3Den              uint64  `json:"e3Den"`
	AttackerID         NodeID  `json:"attackerId"`
}

// ExposureTracker measures how much delivered traffic crossed the
// attacker and how often routing chose it as parent.
//
// Root deliveries and attacker relays are joined by packet key in either
// order: whichever confirmation arrives second performs the count.
type ExposureTracker struct {
	attacker NodeID

	deliveredToRoot map[PacketKey]struct{}
	passedAttacker  map[PacketKey]struct{}
	e1Num           uint64
	e1Den           uint64

	txSeen map[PacketKey]struct{}

	parentSamples  uint64
	parentAttacker uint64

	attackerUDPTotal   uint64
	attackerUDPDropped uint64
}

// NewExposureTracker creates a tracker for the given attacker id
func NewExposureTracker(attacker NodeID) *ExposureTracker {
	return &ExposureTracker{
		attacker:        attacker,
		deliveredToRoot: make(map[PacketKey]struct{}),
		passedAttacker:  make(map[PacketKey]struct{}),
		txSeen:          make(map[PacketKey]struct{}),
	}
}

// Attacker returns the configured attacker id
func (x *ExposureTracker) Attacker() NodeID {
	return x.attacker
}

// ObserveTx records a transmission identity; duplicates are ignored
func (x *ExposureTracker) ObserveTx(key PacketKey) bool {
	if _, ok := x.txSeen[key]; ok {
		return false
	}
	x.txSeen[key] = struct{}{}
	return true
}

// ObserveRootDelivery records that key reached the root
func (x *ExposureTracker) ObserveRootDelivery(key PacketKey) bool {
	if _, ok := x.deliveredToRoot[key]; ok {
		return false
	}
	x.deliveredToRoot[key] = struct{}{}
	x.e1Den++
	if _, ok := x.passedAttacker[key]; ok {
		x.e1Num++
	}
	return true
}

// ObserveRelay records that relay forwarded key. Only relays by the
// attacker count.
func (x *ExposureTracker) ObserveRelay(relay NodeID, key PacketKey) bool {
	if relay != x.attacker {
		return false
	}
	if _, ok := x.passedAttacker[key]; ok {
		return false
	}
	x.passedAttacker[key] = struct{}{}
	if _, ok := x.deliveredToRoot[key]; ok {
		x.e1Num++
	}
	return true
}

// ObserveRouting accounts a routing status report. Only joined reports
// are parent samples.
func (x *ExposureTracker) ObserveRouting(joined bool, parent string) {
	if !joined {
		return
	}
	x.parentSamples++
	if id, err := ParseNodeID(parent); err == nil && id == x.attacker {
		x.parentAttacker++
	}
}

// ObserveCounters adds the attacker's own FWD deltas to its running totals
func (x *ExposureTracker) ObserveCounters(node NodeID, deltaUDP, deltaDropped uint64) {
	if node != x.attacker {
		return
	}
	x.attackerUDPTotal += deltaUDP
	x.attackerUDPDropped += deltaDropped
}

// Delivered returns the number of distinct packets seen at the root
func (x *ExposureTracker) Delivered() uint64 {
	return x.e1Den
}

// TxTotal returns the number of distinct transmissions
func (x *ExposureTracker) TxTotal() uint64 {
	return uint64(len(x.txSeen))
}

// E1 is the percentage of delivered packets that crossed the attacker
func (x *ExposureTracker) E1() float64 {
	return percent(x.e1Num, x.e1Den)
}

// E3 is the percentage of joined parent samples pointing at the attacker
func (x *ExposureTracker) E3() float64 {
	return percent(x.parentAttacker, x.parentSamples)
}

// PDR is the packet delivery ratio in percent
func (x *ExposureTracker) PDR() float64 {
	return percent(x.e1Den, x.TxTotal())
}

// Snapshot captures the current counters tagged with line
func (x *ExposureTracker) Snapshot(line uint64) ExposureSnapshot {
	return ExposureSnapshot{
		Line:               line,
		TxTotal:            x.TxTotal(),
		AttackerUDPTotal:   x.attackerUDPTotal,
		AttackerUDPDropped: x.attackerUDPDropped,
		ParentSamples:      x.parentSamples,
		ParentAttacker:     x.parentAttacker,
		E1:                 x.E1(),
		E1Num:              x.e1Num,
		E1Den:              x.e1Den,
		E3:                 x.E3(),
		E3Num:              x.parentAttacker,
		E3Den:              x.parentSamples,
		AttackerID:         x.attacker,
	}
}

func percent(num, den uint64) float64 {
	if den == 0 {
		return 0
	}
	return 100 * float64(num) / float64(den)
}
