package model

import "time"

// Node is a durable mesh node identity persisted across runs. The ID never
// changes while the node stays active or recent; once an inactive node's
// identity reappears a fresh ID is minted and the old row is left untouched.
type Node struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	DisplayName       string     `json:"display_name"`
	WLANIP            string     `json:"wlan_ip"`
	MACAddress        string     `json:"mac_address,omitempty"`
	Description       string     `json:"description,omitempty"`
	Model             string     `json:"model,omitempty"`
	BoardID           string     `json:"board_id,omitempty"`
	FirmwareVersion   string     `json:"firmware_version,omitempty"`
	FirmwareMfg       string     `json:"firmware_mfg,omitempty"`
	APIVersion        string     `json:"api_version,omitempty"`
	SSID              string     `json:"ssid,omitempty"`
	Channel           string     `json:"channel,omitempty"`
	ChannelBandwidth  string     `json:"channel_bandwidth,omitempty"`
	Band              Band       `json:"band"`
	Latitude          *float64   `json:"latitude,omitempty"`
	Longitude         *float64   `json:"longitude,omitempty"`
	GridSquare        string     `json:"grid_square,omitempty"`
	UpTimeSeconds     *int64     `json:"up_time_seconds,omitempty"`
	LoadAverages      []float64  `json:"load_averages,omitempty"`
	Services          []Service  `json:"services,omitempty"`
	ActiveTunnelCount int        `json:"active_tunnel_count"`
	LinkCount         *int       `json:"link_count,omitempty"`
	RadioLinkCount    *int       `json:"radio_link_count,omitempty"`
	DTDLinkCount      *int       `json:"dtd_link_count,omitempty"`
	TunnelLinkCount   int        `json:"tunnel_link_count"`
	Status            Status     `json:"status"`
	FirstSeen         time.Time  `json:"first_seen"`
	LastSeen          time.Time  `json:"last_seen"`
}

// Link is a directed persisted edge keyed by (source, destination, type).
// Distinct media between the same node pair are distinct links.
type Link struct {
	SourceID        string    `json:"source_id"`
	DestinationID   string    `json:"destination_id"`
	Type            LinkType  `json:"type"`
	Quality         *float64  `json:"quality,omitempty"`
	NeighborQuality *float64  `json:"neighbor_quality,omitempty"`
	Signal          *int      `json:"signal,omitempty"`
	Noise           *int      `json:"noise,omitempty"`
	TxRate          *float64  `json:"tx_rate,omitempty"`
	RxRate          *float64  `json:"rx_rate,omitempty"`
	Cost            *float64  `json:"cost,omitempty"`
	DistanceKM      *float64  `json:"distance_km,omitempty"`
	Bearing         *float64  `json:"bearing,omitempty"`
	Status          Status    `json:"status"`
	LastSeen        time.Time `json:"last_seen"`
}
