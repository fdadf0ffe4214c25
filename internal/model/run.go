package model

import "time"

// NodeError is one per-node failure recorded during a run. The raw response
// is kept for diagnostics when one was received.
type NodeError struct {
	IPAddress string        `json:"ip_address"`
	DNSName   string        `json:"dns_name,omitempty"`
	Category  ErrorCategory `json:"category"`
	Details   string        `json:"details,omitempty"`
}

// Label identifies the failing node for operators.
func (e NodeError) Label() string {
	name := e.DNSName
	if name == "" {
		name = "name unknown"
	}
	return name + " (" + e.IPAddress + ")"
}

// IdentityConflict flags two same-run observations resolving to one identity
// key. Both observations are recorded; neither is merged or dropped.
type IdentityConflict struct {
	IdentityKey string `json:"identity_key"`
	KeptNodeID  string `json:"kept_node_id"`
	NewNodeID   string `json:"new_node_id"`
}

// PollRun is the immutable summary of one collector execution.
type PollRun struct {
	ID              int64                   `json:"id"`
	StartedAt       time.Time               `json:"started_at"`
	PollingDuration time.Duration           `json:"polling_duration"`
	TotalDuration   time.Duration           `json:"total_duration"`
	NodeCount       int                     `json:"node_count"`
	LinkCount       int                     `json:"link_count"`
	ErrorCount      int                     `json:"error_count"`
	PartialTopology bool                    `json:"partial_topology"`
	Errors          []NodeError             `json:"errors,omitempty"`
	Conflicts       []IdentityConflict      `json:"conflicts,omitempty"`
	ErrorsByKind    map[ErrorCategory]int   `json:"errors_by_kind,omitempty"`
	Stats           map[string]int          `json:"stats,omitempty"`
}

// CountErrors populates ErrorCount and the per-category breakdown.
func (r *PollRun) CountErrors() {
	r.ErrorCount = len(r.Errors)
	if len(r.Errors) == 0 {
		return
	}
	r.ErrorsByKind = make(map[ErrorCategory]int, 4)
	for _, e := range r.Errors {
		r.ErrorsByKind[e.Category]++
	}
}
