package model

import "time"

// Status is the recency tier of a node or link derived from its last_seen
// timestamp. Current and Recent are jointly considered active.
type Status string

const (
	StatusCurrent  Status = "CURRENT"
	StatusRecent   Status = "RECENT"
	StatusInactive Status = "INACTIVE"
)

// Active reports whether the status counts as active for downstream consumers.
func (s Status) Active() bool {
	return s == StatusCurrent || s == StatusRecent
}

// RecencyThresholds control when absent nodes and links become inactive.
type RecencyThresholds struct {
	Node time.Duration
	Link time.Duration
}

func DefaultRecencyThresholds() RecencyThresholds {
	return RecencyThresholds{
		Node: 7 * 24 * time.Hour,
		Link: 24 * time.Hour,
	}
}

func (t RecencyThresholds) Normalize() RecencyThresholds {
	defaults := DefaultRecencyThresholds()
	if t.Node <= 0 {
		t.Node = defaults.Node
	}
	if t.Link <= 0 {
		t.Link = defaults.Link
	}
	return t
}

// ClassifyStatus derives the lifecycle status for an entity last seen at
// lastSeen. An entity seen in the current run (lastSeen == runAt) is always
// current regardless of age; one within threshold of now is recent; anything
// older is inactive.
func ClassifyStatus(lastSeen, runAt, now time.Time, threshold time.Duration) Status {
	if lastSeen.Equal(runAt) {
		return StatusCurrent
	}
	if now.Sub(lastSeen) <= threshold {
		return StatusRecent
	}
	return StatusInactive
}

// LinkType classifies the transport medium of a link.
type LinkType string

const (
	LinkTypeRF        LinkType = "RF"
	LinkTypeDTD       LinkType = "DTD"
	LinkTypeTunnel    LinkType = "TUN"
	LinkTypeWireguard LinkType = "WIREGUARD"
	LinkTypeUnknown   LinkType = "UNKNOWN"
)

// Label returns the operator-facing name for the link type.
func (t LinkType) Label() string {
	switch t {
	case LinkTypeRF:
		return "Radio"
	case LinkTypeDTD:
		return "DTD"
	case LinkTypeTunnel:
		return "Tunnel"
	case LinkTypeWireguard:
		return "Wireguard"
	default:
		return "Unknown"
	}
}

// Band is the radio band a node operates on.
type Band string

const (
	BandNineHundredMHz Band = "900MHz"
	BandTwoGHz         Band = "2GHz"
	BandThreeGHz       Band = "3GHz"
	BandFiveGHz        Band = "5GHz"
	BandUnknown        Band = "Unknown"
	BandOff            Band = ""
)

// ErrorCategory buckets per-node polling failures. ErrorTopology marks a run
// that aborted before any node fetch because no topology source answered.
type ErrorCategory string

const (
	ErrorTimeout   ErrorCategory = "TIMEOUT"
	ErrorTransport ErrorCategory = "TRANSPORT"
	ErrorHTTP      ErrorCategory = "HTTP"
	ErrorParse     ErrorCategory = "PARSE"
	ErrorTopology  ErrorCategory = "TOPOLOGY"
)
