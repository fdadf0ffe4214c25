package aredn

import (
	"testing"
	"time"

	"github.com/meshtools/meshwatch/internal/model"
)

const modernSysinfo = `{
	"node": "N0CALL-Hilltop",
	"api_version": "1.11",
	"grid_square": "DM79",
	"lat": "39.7392",
	"lon": "-104.9903",
	"interfaces": [
		{"name": "eth0", "mac": "00:11:22:33:44:00", "ip": "none"},
		{"name": "wlan0", "mac": "00:11:22:33:44:55", "ip": "10.54.21.7"}
	],
	"services_local": [
		{"name": "MeshChat", "protocol": "http", "link": "http://n0call-hilltop:8080"}
	],
	"sysinfo": {"uptime": "4 days, 2:13:45", "loads": ["0.25", "0.31", "0.4"]},
	"meshrf": {"status": "on", "ssid": "AREDN-10-v3", "channel": "175", "chanbw": "10", "freq": "5875"},
	"node_details": {
		"description": "Hilltop relay &amp; gateway",
		"firmware_version": "3.22.6.0",
		"firmware_mfg": "AREDN",
		"model": "MikroTik RouterBOARD",
		"board_id": "0xe005"
	},
	"tunnels": {"active_tunnel_count": "2"},
	"link_info": {
		"10.54.21.9": {
			"hostname": "N0CALL-Valley.local.mesh",
			"linkType": "RF",
			"olsrInterface": "wlan0",
			"linkQuality": 0.95,
			"neighborLinkQuality": 0.9,
			"signal": -61,
			"noise": -95,
			"tx_rate": 26.0,
			"rx_rate": 19.5,
			"linkCost": 1.25
		},
		"10.54.21.10": {
			"hostname": ".N0CALL-Tower.local.mesh",
			"linkType": "",
			"olsrInterface": "br-dtdlink",
			"linkQuality": 1.0,
			"neighborLinkQuality": 1.0,
			"linkCost": 150.5
		}
	}
}`

func TestParseModernSysinfo(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	obs, err := ParseSystemInfo([]byte(modernSysinfo), "10.54.21.7", now)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	if obs.Name != "n0call-hilltop" {
		t.Fatalf("expected lowercased name, got %q", obs.Name)
	}
	if obs.DisplayName != "N0CALL-Hilltop" {
		t.Fatalf("display name should keep case, got %q", obs.DisplayName)
	}
	if obs.IPAddress != "10.54.21.7" {
		t.Fatalf("expected primary interface ip, got %q", obs.IPAddress)
	}
	if obs.MACAddress != "001122334455" {
		t.Fatalf("unexpected mac %q", obs.MACAddress)
	}
	if obs.Band != model.BandFiveGHz {
		t.Fatalf("expected 5GHz band for channel 175, got %q", obs.Band)
	}
	if obs.Description != "Hilltop relay & gateway" {
		t.Fatalf("expected html-unescaped description, got %q", obs.Description)
	}
	if obs.ActiveTunnelCount != 2 {
		t.Fatalf("expected tunnel count 2, got %d", obs.ActiveTunnelCount)
	}
	if obs.UpTimeSeconds == nil || *obs.UpTimeSeconds != 4*86400+2*3600+13*60+45 {
		t.Fatalf("unexpected uptime seconds %v", obs.UpTimeSeconds)
	}
	if len(obs.LoadAverages) != 3 || obs.LoadAverages[0] != 0.25 {
		t.Fatalf("unexpected load averages %v", obs.LoadAverages)
	}
	if obs.Latitude == nil || *obs.Latitude != 39.7392 {
		t.Fatalf("expected latitude parsed from string, got %v", obs.Latitude)
	}
	if len(obs.Services) != 1 || obs.Services[0].Name != "MeshChat" {
		t.Fatalf("unexpected services %v", obs.Services)
	}
	if obs.LinkCount == nil || *obs.LinkCount != 2 {
		t.Fatalf("expected link count 2, got %v", obs.LinkCount)
	}

	links := map[string]model.LinkObservation{}
	for _, link := range obs.Links {
		links[link.DestinationIP] = link
	}

	rf := links["10.54.21.9"]
	if rf.Type != model.LinkTypeRF {
		t.Fatalf("expected RF link, got %q", rf.Type)
	}
	if rf.Destination != "n0call-valley" {
		t.Fatalf("expected stripped hostname, got %q", rf.Destination)
	}
	if rf.Signal == nil || *rf.Signal != -61 {
		t.Fatalf("unexpected signal %v", rf.Signal)
	}
	if rf.Cost == nil || *rf.Cost != 1.25 {
		t.Fatalf("unexpected cost %v", rf.Cost)
	}

	dtd := links["10.54.21.10"]
	if dtd.Type != model.LinkTypeDTD {
		t.Fatalf("expected blank type on br-dtdlink classified DTD, got %q", dtd.Type)
	}
	if dtd.Destination != "n0call-tower" {
		t.Fatalf("expected leading dot stripped, got %q", dtd.Destination)
	}
	if dtd.Cost == nil || *dtd.Cost != 99.99 {
		t.Fatalf("expected cost capped at 99.99, got %v", dtd.Cost)
	}
	if dtd.Signal != nil {
		t.Fatalf("non-radio link should carry no signal metrics")
	}
}

func TestParseLegacySysinfo(t *testing.T) {
	legacy := `{
		"node": "KE5ZZZ-Old",
		"api_version": "1.0",
		"interfaces": [{"name": "wlan0", "mac": "AA:BB:CC:DD:EE:FF", "ip": "10.1.1.1"}],
		"ssid": "AREDN-10-v3",
		"channel": "1",
		"chanbw": "20",
		"firmware_version": "3.16.1.1",
		"firmware_mfg": "AREDN",
		"model": "Ubiquiti Bullet M2",
		"board_id": "0xe202",
		"tunnel_installed": "true",
		"sysinfo": {"uptime": "12 days, 0:01:02", "loads": [0.1, 0.2, 0.3]}
	}`
	obs, err := ParseSystemInfo([]byte(legacy), "10.1.1.1", time.Now())
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if obs.ActiveTunnelCount != 1 {
		t.Fatalf("expected installed flag to yield count 1, got %d", obs.ActiveTunnelCount)
	}
	if obs.Band != model.BandTwoGHz {
		t.Fatalf("expected 2GHz for channel 1, got %q", obs.Band)
	}
	if obs.LinkCount != nil {
		t.Fatalf("legacy document should not report a link count")
	}
	if len(obs.Links) != 0 {
		t.Fatalf("legacy document should carry no links")
	}
}

func TestParseLegacyTunnelFlagFalse(t *testing.T) {
	legacy := `{
		"node": "KE5ZZZ-Old",
		"api_version": "1.0",
		"interfaces": [],
		"ssid": "AREDN",
		"channel": "1",
		"chanbw": "20",
		"firmware_version": "3.16.1.1",
		"firmware_mfg": "AREDN",
		"model": "Bullet M2",
		"board_id": "0xe202",
		"tunnel_installed": "false"
	}`
	obs, err := ParseSystemInfo([]byte(legacy), "10.1.1.2", time.Now())
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if obs.ActiveTunnelCount != 0 {
		t.Fatalf("expected 0 tunnels for false flag, got %d", obs.ActiveTunnelCount)
	}
	if obs.IPAddress != "10.1.1.2" {
		t.Fatalf("expected fallback to fetch address, got %q", obs.IPAddress)
	}
}

func TestParseUnknownSchemaFailsClosed(t *testing.T) {
	if _, err := ParseSystemInfo([]byte(`{"something": "else"}`), "10.0.0.1", time.Now()); err == nil {
		t.Fatalf("expected error for unrecognized schema")
	}
	if _, err := ParseSystemInfo([]byte(`not json`), "10.0.0.1", time.Now()); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}

func TestMalformedNumericsStayUnknown(t *testing.T) {
	doc := `{
		"node": "N0CALL",
		"api_version": "1.11",
		"lat": "not-a-number",
		"lon": "",
		"interfaces": [],
		"sysinfo": {"uptime": "up forever", "loads": []},
		"meshrf": {"status": "on", "channel": "bogus"},
		"node_details": {"firmware_version": "3.22.6.0", "firmware_mfg": "AREDN", "model": "x", "board_id": "y"},
		"tunnels": {}
	}`
	obs, err := ParseSystemInfo([]byte(doc), "10.0.0.5", time.Now())
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if obs.Latitude != nil || obs.Longitude != nil {
		t.Fatalf("malformed coordinates must stay nil, got %v/%v", obs.Latitude, obs.Longitude)
	}
	if obs.UpTimeSeconds != nil {
		t.Fatalf("unparseable uptime must stay nil, got %v", obs.UpTimeSeconds)
	}
	if obs.ActiveTunnelCount != 0 {
		t.Fatalf("missing tunnel count should default to 0, got %d", obs.ActiveTunnelCount)
	}
	if obs.Band != model.BandUnknown {
		t.Fatalf("unknown channel should derive unknown band, got %q", obs.Band)
	}
}

func TestClassifyLinkType(t *testing.T) {
	cases := []struct {
		reported string
		iface    string
		radio    bool
		expected model.LinkType
	}{
		{"RF", "wlan0", true, model.LinkTypeRF},
		{"DTD", "eth0", false, model.LinkTypeDTD},
		{"TUN", "tun50", false, model.LinkTypeTunnel},
		{"WIREGUARD", "wgc", false, model.LinkTypeWireguard},
		{"", "br-dtdlink", false, model.LinkTypeDTD},
		{"", "tun51", false, model.LinkTypeTunnel},
		{"", "wg0", false, model.LinkTypeWireguard},
		{"", "wlan0", true, model.LinkTypeRF},
		{"", "eth1", false, model.LinkTypeUnknown},
		{"SOMETHING-NEW", "eth1", false, model.LinkTypeUnknown},
	}
	for _, tc := range cases {
		if got := classifyLinkType(tc.reported, tc.iface, tc.radio); got != tc.expected {
			t.Fatalf("classify(%q, %q, %v) = %q, expected %q", tc.reported, tc.iface, tc.radio, got, tc.expected)
		}
	}
}

func TestDeriveBand(t *testing.T) {
	cases := []struct {
		status   string
		board    string
		channel  string
		expected model.Band
	}{
		{"off", "0xe005", "175", model.BandOff},
		{"on", "0xe009", "5", model.BandNineHundredMHz},
		{"on", "0xe005", "-2", model.BandTwoGHz},
		{"on", "0xe005", "3420", model.BandThreeGHz},
		{"on", "0xe005", "149", model.BandFiveGHz},
		{"on", "0xe005", "9999", model.BandUnknown},
	}
	for _, tc := range cases {
		if got := DeriveBand(tc.status, tc.board, tc.channel); got != tc.expected {
			t.Fatalf("DeriveBand(%q, %q, %q) = %q, expected %q", tc.status, tc.board, tc.channel, got, tc.expected)
		}
	}
}

func TestVersionChecker(t *testing.T) {
	checker := NewVersionChecker("3.22.6.0", "1.11")

	apiCases := map[string]int{
		"1.11": 0,
		"1.10": 1,
		"1.7":  2,
		"0.9":  3,
		"dev":  -1,
	}
	for version, expected := range apiCases {
		if got := checker.API(version); got != expected {
			t.Fatalf("API(%q) = %d, expected %d", version, got, expected)
		}
	}

	firmwareCases := map[string]int{
		"3.22.6.0": 0,
		"2.0.0.0":  3,
		"3.20.6.0": 3,
		"3.22.5.0": 2,
	}
	for version, expected := range firmwareCases {
		if got := checker.Firmware(version); got != expected {
			t.Fatalf("Firmware(%q) = %d, expected %d", version, got, expected)
		}
	}
}
