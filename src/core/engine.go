package main

import (
	"context"
	"errors"
	"io"
)

// RunSummary describes a completed run
type RunSummary struct {
	Lines      uint64
	Records    map[RecordKind]uint64
	Malformed  uint64
	Nodes      int
	Blacklist  []NodeID
	TxTotal    uint64
	Delivered  uint64
	E1         float64
	E3         float64
	PDR        float64
	SwitchRate float64
	Terminated bool
}

// Engine folds an ordered trace into trust, exposure and parent state.
// Every event is handled to completion before the next line is read, so
// none of its state needs locking.
type Engine struct {
	trust    *TrustTracker
	exposure *ExposureTracker
	parents  *ParentTracker
	sinks    *Sinks
	board    *StatusBoard

	forwardersOnly bool
	statsEvery     uint64
	forwarders     map[NodeID]struct{}

	lines      uint64
	records    map[RecordKind]uint64
	malformed  uint64
	terminated bool
	finished   bool
}

// NewEngine wires trackers from cfg to sinks. board may be nil.
func NewEngine(cfg *Config, sinks *Sinks, board *StatusBoard) *Engine {
	if sinks == nil {
		sinks = DiscardSinks()
	}
	statsEvery := uint64(0)
	if cfg.StatsEvery > 0 {
		statsEvery = uint64(cfg.StatsEvery)
	}
	return &Engine{
		trust:          NewTrustTracker(cfg.TrustParams()),
		exposure:       NewExposureTracker(NodeID(cfg.AttackerID)),
		parents:        NewParentTracker(),
		sinks:          sinks,
		board:          board,
		forwardersOnly: cfg.ForwardersOnly,
		statsEvery:     statsEvery,
		forwarders:     make(map[NodeID]struct{}),
		records:        make(map[RecordKind]uint64),
	}
}

// Run consumes src until end of stream, a terminal marker, or ctx is
// done, then writes the end-of-run outputs.
func (e *Engine) Run(ctx context.Context, src LineSource) error {
	var runErr error
	for {
		line, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			runErr = err
			break
		}
		stop, err := e.ProcessLine(line)
		if err != nil {
			return err
		}
		if stop {
			break
		}
	}
	if err := e.Finish(); err != nil {
		return err
	}
	return runErr
}

// ProcessLine handles one raw line. It reports true when the line ends
// the run.
func (e *Engine) ProcessLine(line string) (bool, error) {
	e.lines++
	RecordLine()

	ev, err := ParseLine(line)
	if err != nil {
		e.malformed++
		var mre *MalformedRecordError
		if errors.As(err, &mre) {
			RecordParsed(mre.Kind, true)
		}
		logger.Debug("Discarded malformed line", "line", e.lines, "error", err)
	} else {
		switch ev.Kind {
		case KindUnrecognized:
		case KindTerminal:
			e.records[ev.Kind]++
			e.terminated = true
			logger.Info("Terminal marker reached", "line", e.lines)
			return true, nil
		default:
			e.records[ev.Kind]++
			RecordParsed(ev.Kind, false)
			if err := e.handle(ev); err != nil {
				return false, err
			}
		}
	}

	if e.statsEvery > 0 && e.lines%e.statsEvery == 0 {
		if err := e.writeStats(); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (e *Engine) handle(ev Event) error {
	switch ev.Kind {
	case KindTx:
		e.exposure.ObserveTx(ev.Key())
	case KindRx:
		if e.forwardersOnly {
			if _, ok := e.forwarders[ev.Node]; !ok {
				return nil
			}
		}
		e.exposure.ObserveRootDelivery(ev.Key())
	case KindFwdPkt:
		e.exposure.ObserveRelay(ev.Node, ev.Key())
	case KindRouting:
		e.exposure.ObserveRouting(ev.Joined, ev.Parent)
	case KindParent:
		e.parents.Observe(ev.Node, ev.Parent)
	case KindFwd:
		return e.handleFwd(ev)
	}
	return nil
}

func (e *Engine) handleFwd(ev Event) error {
	e.forwarders[ev.Node] = struct{}{}

	up := e.trust.Observe(ev.Node, ev.UDPToRoot, ev.Dropped)
	e.exposure.ObserveCounters(ev.Node, up.DeltaUDP, up.DeltaDropped)
	if !up.Observed {
		return nil
	}

	if err := e.sinks.Trust.WriteLine(FormatTrustUpdate(up)); err != nil {
		return err
	}
	row := FormatMetricsRow(up)
	if err := e.sinks.Metrics.WriteLine(row); err != nil {
		return err
	}
	if up.NewlyBlacklisted {
		if err := e.sinks.Blacklist.WriteLine(row); err != nil {
			return err
		}
		logger.Warn("Node blacklisted",
			"node", up.Node, "line", e.lines,
			"ewma", up.EWMA, "bayes", up.Bayes, "beta", up.Beta)
	}
	RecordTrustUpdate(up)
	e.publishNode(up.Node)

	snap := e.exposure.Snapshot(e.lines)
	if e.sinks.Exposure.Enabled() && e.exposure.Delivered() > 0 {
		if err := e.sinks.Exposure.WriteLine(FormatExposureRow(snap)); err != nil {
			return err
		}
	}
	UpdateExposureGauges(snap)
	e.publishExposure(snap)
	return nil
}

func (e *Engine) writeStats() error {
	snap := e.exposure.Snapshot(e.lines)
	rate := e.parents.AggregateSwitchRate()
	if e.sinks.Stats.Enabled() {
		if err := e.sinks.Stats.WriteLine(FormatStatsRow(snap, rate)); err != nil {
			return err
		}
	}
	UpdateExposureGauges(snap)
	UpdateParentSwitchGauge(rate)
	e.publishExposure(snap)
	return nil
}

func (e *Engine) publishNode(node NodeID) {
	if e.board == nil {
		return
	}
	st, ok := e.trust.State(node)
	if !ok {
		return
	}
	e.board.PublishNode(NodeStatus{
		Node:        node,
		Phase:       st.Phase.String(),
		EWMA:        st.EWMA,
		Bayes:       st.Bayes,
		Beta:        st.Beta,
		Trust:       st.Trust,
		Success:     st.Succ,
		Failed:      st.Fail,
		Blacklisted: st.Phase == PhaseBlacklisted,
	})
}

func (e *Engine) publishExposure(snap ExposureSnapshot) {
	if e.board == nil {
		return
	}
	e.board.PublishExposure(ExposureStatus{
		ExposureSnapshot: snap,
		PDR:              e.exposure.PDR(),
		ParentSwitchRate: e.parents.AggregateSwitchRate(),
	})
}

// Finish writes the parent-stability table and the final trust summary.
// Calling it more than once has no further effect.
func (e *Engine) Finish() error {
	if e.finished {
		return nil
	}
	e.finished = true

	for _, row := range e.parents.Rows() {
		if err := e.sinks.Parent.WriteLine(FormatParentRow(row)); err != nil {
			return err
		}
	}

	for _, node := range e.trust.Nodes() {
		st, _ := e.trust.State(node)
		if !st.Seen() {
			continue
		}
		if err := e.sinks.Summary.WriteLine(FormatFinalTrust(node, st.Trust)); err != nil {
			return err
		}
	}

	rate := e.parents.AggregateSwitchRate()
	UpdateParentSwitchGauge(rate)
	e.publishExposure(e.exposure.Snapshot(e.lines))
	if e.board != nil {
		e.board.MarkFinished(e.lines)
	}

	s := e.Summary()
	logger.Info("Trace processing finished",
		"lines", s.Lines,
		"malformed", s.Malformed,
		"nodes", s.Nodes,
		"blacklisted", len(s.Blacklist),
		"txTotal", s.TxTotal,
		"delivered", s.Delivered,
		"pdr", s.PDR,
		"e1", s.E1,
		"e3", s.E3,
		"parentSwitchRate", s.SwitchRate,
		"terminated", s.Terminated)
	return nil
}

// Summary reports the engine's current totals
func (e *Engine) Summary() RunSummary {
	records := make(map[RecordKind]uint64, len(e.records))
	for k, v := range e.records {
		records[k] = v
	}
	return RunSummary{
		Lines:      e.lines,
		Records:    records,
		Malformed:  e.malformed,
		Nodes:      len(e.trust.Nodes()),
		Blacklist:  e.trust.Blacklist().Members(),
		TxTotal:    e.exposure.TxTotal(),
		Delivered:  e.exposure.Delivered(),
		E1:         e.exposure.E1(),
		E3:         e.exposure.E3(),
		PDR:        e.exposure.PDR(),
		SwitchRate: e.parents.AggregateSwitchRate(),
		Terminated: e.terminated,
	}
}

// Trust exposes the trust tracker for inspection
func (e *Engine) Trust() *TrustTracker { return e.trust }

// Exposure exposes the exposure tracker for inspection
func (e *Engine) Exposure() *ExposureTracker { return e.exposure }

// Parents exposes the parent tracker for inspection
func (e *Engine) Parents() *ParentTracker { return e.parents }
