package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Output headers
const (
	MetricsHeader   = "node_id,success,failed,ewma,bayes,beta,trust_value,trust_raw"
	BlacklistHeader = MetricsHeader
	ExposureHeader  = "line,tx_total,attacker_udp_total,attacker_udp_dropped,parent_samples,parent_attacker_samples,e1,e1_num,e1_den,e3,e3_num,e3_den,attacker_id"
	StatsHeader     = ExposureHeader + ",parent_switch_rate"
	ParentHeader    = "node_id,parent_samples,parent_changes,switch_rate"
)

// Sink is an append-only record stream. Every record is flushed before
// WriteLine returns.
type Sink interface {
	WriteLine(line string) error
	Enabled() bool
	Close() error
}

type fileSink struct {
	path string
	f    *os.File
	w    *bufio.Writer
}

// OpenSink truncates path and writes header if non-empty. An empty path
// yields a sink that discards everything.
func OpenSink(path, header string) (Sink, error) {
	if path == "" {
		return discardSink{}, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output %s: %w", path, err)
	}

	s := &fileSink{path: path, f: f, w: bufio.NewWriter(f)}
	if header != "" {
		if err := s.WriteLine(header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *fileSink) WriteLine(line string) error {
	if _, err := s.w.WriteString(line); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", s.path, err)
	}
	return nil
}

func (s *fileSink) Enabled() bool { return true }

func (s *fileSink) Close() error {
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

type discardSink struct{}

func (discardSink) WriteLine(string) error { return nil }
func (discardSink) Enabled() bool          { return false }
func (discardSink) Close() error           { return nil }

// Sinks groups every output of a run
type Sinks struct {
	Trust     Sink
	Metrics   Sink
	Blacklist Sink
	Exposure  Sink
	Stats     Sink
	Parent    Sink
	Summary   Sink

	closed bool
}

// OpenSinks opens every configured output. On failure the sinks opened so
// far are closed.
func OpenSinks(cfg *Config) (*Sinks, error) {
	s := &Sinks{}
	outputs := []struct {
		dst    *Sink
		path   string
		header string
	}{
		{&s.Trust, cfg.Output, ""},
		{&s.Metrics, cfg.MetricsOut, MetricsHeader},
		{&s.Blacklist, cfg.BlacklistOut, BlacklistHeader},
		{&s.Exposure, cfg.ExposureOut, ExposureHeader},
		{&s.Stats, cfg.StatsOut, StatsHeader},
		{&s.Parent, cfg.ParentOut, ParentHeader},
		{&s.Summary, cfg.SummaryOut, ""},
	}
	for _, out := range outputs {
		sink, err := OpenSink(out.path, out.header)
		if err != nil {
			s.Close()
			return nil, err
		}
		*out.dst = sink
	}
	return s, nil
}

// DiscardSinks returns a set of sinks that write nothing
func DiscardSinks() *Sinks {
	d := discardSink{}
	return &Sinks{Trust: d, Metrics: d, Blacklist: d, Exposure: d, Stats: d, Parent: d, Summary: d}
}

// Close closes every opened sink and returns the first error. Later
// calls are no-ops.
func (s *Sinks) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var first error
	for _, sink := range []Sink{s.Trust, s.Metrics, s.Blacklist, s.Exposure, s.Stats, s.Parent, s.Summary} {
		if sink == nil {
			continue
		}
		if err := sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// FormatTrustUpdate renders the line consumed by the simulator
func FormatTrustUpdate(up TrustUpdate) string {
	return fmt.Sprintf("TRUST,%d,%d", up.Node, up.QuantizedTrust)
}

// FormatMetricsRow renders a metrics/blacklist CSV row
func FormatMetricsRow(up TrustUpdate) string {
	return strings.Join([]string{
		strconv.Itoa(int(up.Node)),
		formatUint(up.DeltaSuccess),
		formatUint(up.DeltaDropped),
		formatFloat(up.EWMA),
		formatFloat(up.Bayes),
		formatFloat(up.Beta),
		strconv.Itoa(int(up.QuantizedTrust)),
		formatFloat(up.Trust),
	}, ",")
}

func exposureFields(s ExposureSnapshot) []string {
	return []string{
		formatUint(s.Line),
		formatUint(s.TxTotal),
		formatUint(s.AttackerUDPTotal),
		formatUint(s.AttackerUDPDropped),
		formatUint(s.ParentSamples),
		formatUint(s.ParentAttacker),
		formatFloat(s.E1),
		formatUint(s.E1Num),
		formatUint(s.E1Den),
		formatFloat(s.E3),
		formatUint(s.E3Num),
		formatUint(s.E3Den),
		strconv.Itoa(int(s.AttackerID)),
	}
}

// FormatExposureRow renders an exposure CSV row
func FormatExposureRow(s ExposureSnapshot) string {
	return strings.Join(exposureFields(s), ",")
}

// FormatStatsRow renders a periodic stats CSV row
func FormatStatsRow(s ExposureSnapshot, switchRate float64) string {
	return strings.Join(append(exposureFields(s), formatFloat(switchRate)), ",")
}

// FormatParentRow renders a parent-stability CSV row
func FormatParentRow(r ParentStabilityRow) string {
	return strings.Join([]string{
		strconv.Itoa(int(r.Node)),
		formatUint(r.Samples),
		formatUint(r.Changes),
		formatFloat(r.SwitchRate),
	}, ",")
}

// FormatFinalTrust renders one final summary line
func FormatFinalTrust(node NodeID, trust float64) string {
	return fmt.Sprintf("TRUST_FINAL: node=%d T=%s", node, formatFloat(trust))
}
