package model

import (
	"strconv"
	"strings"
	"time"
)

// Interface is one network interface reported in a node's status document.
type Interface struct {
	Name       string
	MACAddress string
	IPAddress  string
}

// NodeObservation is one node's state as seen in a single run, normalized
// from whatever schema generation the node's firmware speaks.
//
// Optional numeric fields are pointers: absent or malformed source values stay
// nil rather than being coerced to zero.
type NodeObservation struct {
	Name              string
	DisplayName       string
	IPAddress         string
	MACAddress        string
	Description       string
	APIVersion        string
	FirmwareVersion   string
	FirmwareMfg       string
	Model             string
	BoardID           string
	SSID              string
	Channel           string
	ChannelBandwidth  string
	Frequency         string
	Band              Band
	UpTime            string
	UpTimeSeconds     *int64
	LoadAverages      []float64
	Latitude          *float64
	Longitude         *float64
	GridSquare        string
	Interfaces        map[string]Interface
	Services          []Service
	ActiveTunnelCount int
	Links             []LinkObservation
	LinkCount         *int
	ObservedAt        time.Time
}

// Service is one advertised service from the node's status document.
type Service struct {
	Name     string `json:"name"`
	Protocol string `json:"protocol"`
	Link     string `json:"link"`
}

// APIVersionTuple parses the reported API version into comparable integers.
// Unparseable versions yield (0, 0).
func (o *NodeObservation) APIVersionTuple() (major, minor int) {
	major, minor, ok := splitVersion(o.APIVersion)
	if !ok {
		return 0, 0
	}
	return major, minor
}

// RadioLinkCount counts RF links, or nil when the node reported no link table.
func (o *NodeObservation) RadioLinkCount() *int {
	return o.countLinks(LinkTypeRF)
}

// DTDLinkCount counts DTD links, or nil when the node reported no link table.
func (o *NodeObservation) DTDLinkCount() *int {
	return o.countLinks(LinkTypeDTD)
}

// TunnelLinkCount counts tunnel links of either technology, falling back to
// the reported tunnel count when no link table is present.
func (o *NodeObservation) TunnelLinkCount() int {
	if len(o.Links) == 0 {
		return o.ActiveTunnelCount
	}
	n := 0
	for _, link := range o.Links {
		if link.Type == LinkTypeTunnel || link.Type == LinkTypeWireguard {
			n++
		}
	}
	return n
}

func (o *NodeObservation) countLinks(t LinkType) *int {
	if len(o.Links) == 0 {
		return nil
	}
	n := 0
	for _, link := range o.Links {
		if link.Type == t {
			n++
		}
	}
	return &n
}

func splitVersion(v string) (major, minor int, ok bool) {
	parts := strings.Split(strings.TrimSpace(v), ".")
	if len(parts) == 0 || parts[0] == "" {
		return 0, 0, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	if len(parts) > 1 {
		minor, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, false
		}
	}
	return major, minor, true
}

// LinkObservation is one directed edge reported by the observing node.
// Signal metrics are present only for radio links; Cost is the routing cost
// capped at 99.99 which represents an unreachable/infinite route.
type LinkObservation struct {
	Source          string
	Destination     string
	DestinationIP   string
	Type            LinkType
	Interface       string
	Quality         *float64
	NeighborQuality *float64
	Signal          *int
	Noise           *int
	TxRate          *float64
	RxRate          *float64
	Cost            *float64
}
