package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// RecordMarker is the first field of every structured trace line
const RecordMarker = "CSV"

// ErrMalformedRecord is returned for a line carrying a known tag whose
// fields do not parse. The line is dropped as a whole.
var ErrMalformedRecord = errors.New("malformed record")

// MalformedRecordError names the tag of a discarded line
type MalformedRecordError struct {
	Kind RecordKind
	Err  error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrMalformedRecord, e.Kind, e.Err)
}

func (e *MalformedRecordError) Is(target error) bool {
	return target == ErrMalformedRecord
}

func (e *MalformedRecordError) Unwrap() error {
	return e.Err
}

var terminalMarkers = []string{"test ok", "finished"}

// ParseLine classifies a raw trace line and extracts its typed fields.
// Unknown tags come back as KindUnrecognized with a nil error.
func ParseLine(line string) (Event, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, RecordMarker+",") {
		if isTerminal(line) {
			return Event{Kind: KindTerminal}, nil
		}
		return Event{Kind: KindUnrecognized}, nil
	}

	parts := strings.Split(line, ",")
	if len(parts) < 2 {
		return Event{Kind: KindUnrecognized}, nil
	}

	var (
		ev  Event
		err error
	)
	switch RecordKind(parts[1]) {
	case KindTx:
		ev, err = parseTx(parts[2:])
	case KindRx:
		ev, err = parseRx(parts[2:])
	case KindFwd:
		ev, err = parseFwd(parts[2:])
	case KindFwdPkt:
		ev, err = parseFwdPkt(parts[2:])
	case KindRouting:
		ev, err = parseRouting(parts[2:])
	case KindParent:
		ev, err = parseParent(parts[2:])
	default:
		return Event{Kind: KindUnrecognized}, nil
	}
	if err != nil {
		return Event{Kind: KindUnrecognized}, &MalformedRecordError{Kind: RecordKind(parts[1]), Err: err}
	}
	return ev, nil
}

func isTerminal(line string) bool {
	lower := strings.ToLower(line)
	for _, m := range terminalMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// CSV,TX,<node>,<seq>,<t0>,<joined>
func parseTx(f []string) (Event, error) {
	if len(f) < 2 {
		return Event{}, errors.New("too few fields")
	}
	node, err := parseDecimalNode(f[0])
	if err != nil {
		return Event{}, err
	}
	seq, err := parseSeq(f[1])
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: KindTx, Node: node, Seq: seq}, nil
}

// CSV,RX,<src_addr>,<seq>,... or CSV,RX,node=<n>,<src_addr>,<seq>,...
func parseRx(f []string) (Event, error) {
	if len(f) > 0 && strings.HasPrefix(f[0], "node=") {
		f = f[1:]
	}
	if len(f) < 2 {
		return Event{}, errors.New("too few fields")
	}
	src, err := ParseNodeID(f[0])
	if err != nil {
		return Event{}, err
	}
	seq, err := parseSeq(f[1])
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: KindRx, Node: src, Seq: seq}, nil
}

// CSV,FWD,<node>,<fwd_total>,<udp_to_root>,<dropped> or
// CSV,FWD,<node>,<udp_to_root>,<dropped>.
// The two layouts carry no version tag; field count is the only
// disambiguator.
func parseFwd(f []string) (Event, error) {
	var udpField, dropField string
	switch {
	case len(f) >= 4:
		if _, err := strconv.ParseUint(f[1], 10, 64); err != nil {
			return Event{}, fmt.Errorf("fwd_total: %w", err)
		}
		udpField, dropField = f[2], f[3]
	case len(f) == 3:
		udpField, dropField = f[1], f[2]
	default:
		return Event{}, errors.New("too few fields")
	}
	node, err := parseDecimalNode(f[0])
	if err != nil {
		return Event{}, err
	}
	udp, err := strconv.ParseUint(udpField, 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("udp_to_root: %w", err)
	}
	dropped, err := strconv.ParseUint(dropField, 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("dropped: %w", err)
	}
	return Event{Kind: KindFwd, Node: node, UDPToRoot: udp, Dropped: dropped}, nil
}

// CSV,FWD_PKT,<node>,<src>,<seq>
func parseFwdPkt(f []string) (Event, error) {
	if len(f) < 3 {
		return Event{}, errors.New("too few fields")
	}
	node, err := parseDecimalNode(f[0])
	if err != nil {
		return Event{}, err
	}
	src, err := parseDecimalNode(f[1])
	if err != nil {
		return Event{}, err
	}
	seq, err := parseSeq(f[2])
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: KindFwdPkt, Node: node, Src: src, Seq: seq}, nil
}

// CSV,ROUTING,<node>,<joined>,<parent> or CSV,ROUTING,<joined>,<parent>
func parseRouting(f []string) (Event, error) {
	ev := Event{Kind: KindRouting}
	switch {
	case len(f) >= 3:
		node, err := parseDecimalNode(f[0])
		if err != nil {
			return Event{}, err
		}
		ev.Node = node
		f = f[1:]
	case len(f) == 2:
	default:
		return Event{}, errors.New("too few fields")
	}
	joined, err := strconv.ParseUint(strings.TrimSpace(f[0]), 10, 8)
	if err != nil {
		return Event{}, fmt.Errorf("joined: %w", err)
	}
	ev.Joined = joined != 0
	ev.Parent = strings.TrimSpace(f[1])
	return ev, nil
}

// CSV,PARENT,<node>,<parent|none|unknown>
func parseParent(f []string) (Event, error) {
	if len(f) < 2 {
		return Event{}, errors.New("too few fields")
	}
	node, err := parseDecimalNode(f[0])
	if err != nil {
		return Event{}, err
	}
	parent := strings.TrimSpace(f[1])
	if parent == "" {
		return Event{}, errors.New("empty parent")
	}
	return Event{Kind: KindParent, Node: node, Parent: parent}, nil
}

// ParseNodeID extracts a node id from an address-like field: the last
// non-empty colon-delimited segment, read as hex and then as decimal.
func ParseNodeID(addr string) (NodeID, error) {
	var last string
	for _, seg := range strings.Split(strings.TrimSpace(addr), ":") {
		if seg != "" {
			last = seg
		}
	}
	if last == "" {
		return 0, fmt.Errorf("no node id in %q", addr)
	}
	if v, err := strconv.ParseUint(last, 16, 16); err == nil {
		return NodeID(v), nil
	}
	v, err := strconv.ParseUint(last, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("no node id in %q", addr)
	}
	return NodeID(v), nil
}

func parseDecimalNode(s string) (NodeID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("node id: %w", err)
	}
	return NodeID(v), nil
}

func parseSeq(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("seq: %w", err)
	}
	return uint32(v), nil
}
