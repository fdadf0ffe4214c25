package aredn

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/meshtools/meshwatch/internal/model"
)

// Interface names checked, in order, when identifying the primary wireless
// interface of a node.
var primaryInterfaceNames = []string{"wlan0", "wlan1", "eth0.3975", "eth1.3975", "br-nomesh"}

var upTimeRegex = regexp.MustCompile(`^(\d+) days, (\d+):(\d+):(\d+)`)

// ParseSystemInfo normalizes a sysinfo.json payload into a NodeObservation.
//
// Two schema generations are supported: the modern layout (API >= 1.5) with
// nested sysinfo/meshrf/node_details/tunnels sections, and the legacy flat
// layout. Documents matching neither generation fail closed with an error
// rather than guessing. ipAddress is the address the document was fetched
// from, used when the primary interface cannot be identified.
func ParseSystemInfo(payload []byte, ipAddress string, observedAt time.Time) (*model.NodeObservation, error) {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	var (
		obs *model.NodeObservation
		err error
	)
	switch {
	case doc["node_details"] != nil:
		obs, err = parseModern(doc)
	case doc["node"] != nil:
		obs, err = parseLegacy(doc)
	default:
		return nil, fmt.Errorf("unrecognized sysinfo schema")
	}
	if err != nil {
		return nil, err
	}

	if obs.IPAddress == "" {
		obs.IPAddress = ipAddress
	}
	obs.ObservedAt = observedAt
	return obs, nil
}

// parseModern handles API >= 1.5 documents.
func parseModern(doc map[string]any) (*model.NodeObservation, error) {
	name := strings.ToLower(str(doc["node"]))
	if name == "" {
		return nil, fmt.Errorf("missing node name")
	}
	details, ok := doc["node_details"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("malformed node_details")
	}
	rf, _ := doc["meshrf"].(map[string]any)

	obs := &model.NodeObservation{
		Name:             name,
		DisplayName:      str(doc["node"]),
		APIVersion:       str(doc["api_version"]),
		GridSquare:       str(doc["grid_square"]),
		Latitude:         floatPtr(doc["lat"]),
		Longitude:        floatPtr(doc["lon"]),
		Description:      html.UnescapeString(str(details["description"])),
		FirmwareVersion:  str(details["firmware_version"]),
		FirmwareMfg:      str(details["firmware_mfg"]),
		Model:            str(details["model"]),
		BoardID:          str(details["board_id"]),
		SSID:             str(rf["ssid"]),
		Channel:          str(rf["channel"]),
		ChannelBandwidth: str(rf["chanbw"]),
		Frequency:        str(rf["freq"]),
		Interfaces:       parseInterfaces(doc["interfaces"]),
		Services:         parseServices(doc["services_local"]),
	}

	rfStatus := "on"
	if rf != nil {
		if s := str(rf["status"]); s != "" {
			rfStatus = s
		}
	}
	obs.Band = DeriveBand(rfStatus, obs.BoardID, obs.Channel)

	if sys, ok := doc["sysinfo"].(map[string]any); ok {
		obs.UpTime = str(sys["uptime"])
		obs.UpTimeSeconds = parseUpTime(obs.UpTime)
		obs.LoadAverages = parseLoads(sys["loads"])
	}

	if tunnels, ok := doc["tunnels"].(map[string]any); ok {
		if count := intPtr(tunnels["active_tunnel_count"]); count != nil {
			obs.ActiveTunnelCount = *count
		}
	}

	if links, ok := doc["link_info"].(map[string]any); ok {
		for destIP, raw := range links {
			link, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			obs.Links = append(obs.Links, parseLinkInfo(link, name, destIP))
		}
		linkCount := len(obs.Links)
		obs.LinkCount = &linkCount
	}

	resolvePrimaryInterface(obs)
	return obs, nil
}

// parseLegacy handles API < 1.5 documents. The flat layout reports tunnel
// presence either as a numeric count or as an installed flag.
func parseLegacy(doc map[string]any) (*model.NodeObservation, error) {
	name := strings.ToLower(str(doc["node"]))
	if name == "" {
		return nil, fmt.Errorf("missing node name")
	}

	obs := &model.NodeObservation{
		Name:             name,
		DisplayName:      str(doc["node"]),
		APIVersion:       str(doc["api_version"]),
		GridSquare:       str(doc["grid_square"]),
		Latitude:         floatPtr(doc["lat"]),
		Longitude:        floatPtr(doc["lon"]),
		SSID:             str(doc["ssid"]),
		Channel:          str(doc["channel"]),
		ChannelBandwidth: str(doc["chanbw"]),
		FirmwareVersion:  str(doc["firmware_version"]),
		FirmwareMfg:      str(doc["firmware_mfg"]),
		Model:            str(doc["model"]),
		BoardID:          str(doc["board_id"]),
		Interfaces:       parseInterfaces(doc["interfaces"]),
	}
	obs.Band = DeriveBand("on", obs.BoardID, obs.Channel)

	if count := intPtr(doc["active_tunnel_count"]); count != nil {
		obs.ActiveTunnelCount = *count
	} else if flag, ok := boolVal(doc["tunnel_installed"]); ok && flag {
		// the flag only tells us at least one tunnel is installed
		obs.ActiveTunnelCount = 1
	}

	if sys, ok := doc["sysinfo"].(map[string]any); ok {
		obs.UpTime = str(sys["uptime"])
		obs.UpTimeSeconds = parseUpTime(obs.UpTime)
		obs.LoadAverages = parseLoads(sys["loads"])
	}

	resolvePrimaryInterface(obs)
	return obs, nil
}

func parseLinkInfo(link map[string]any, source, destIP string) model.LinkObservation {
	linkType := classifyLinkType(str(link["linkType"]), str(link["olsrInterface"]), link["signal"] != nil)

	// node names in link tables carry the mesh domain suffix
	hostname := strings.ToLower(strings.TrimPrefix(
		strings.ReplaceAll(str(link["hostname"]), ".local.mesh", ""), "."))

	cost := floatPtr(link["linkCost"])
	if cost != nil {
		if *cost > 99.99 {
			capped := 99.99
			cost = &capped
		} else if *cost < 0 {
			zero := 0.0
			cost = &zero
		}
	}

	obs := model.LinkObservation{
		Source:          source,
		Destination:     hostname,
		DestinationIP:   destIP,
		Type:            linkType,
		Interface:       str(link["olsrInterface"]),
		Quality:         floatPtr(link["linkQuality"]),
		NeighborQuality: floatPtr(link["neighborLinkQuality"]),
		Cost:            cost,
	}
	if linkType == model.LinkTypeRF {
		obs.Signal = intPtr(link["signal"])
		obs.Noise = intPtr(link["noise"])
		obs.TxRate = floatPtr(link["tx_rate"])
		obs.RxRate = floatPtr(link["rx_rate"])
	}
	return obs
}

// classifyLinkType maps the reported type onto the known media, falling back
// to interface naming conventions when the report is blank or unrecognized.
func classifyLinkType(reported, iface string, hasRadioMetrics bool) model.LinkType {
	switch strings.ToUpper(reported) {
	case "RF":
		return model.LinkTypeRF
	case "DTD":
		return model.LinkTypeDTD
	case "TUN":
		return model.LinkTypeTunnel
	case "WIREGUARD":
		return model.LinkTypeWireguard
	}
	switch {
	case strings.Contains(iface, "dtdlink"):
		return model.LinkTypeDTD
	case strings.HasPrefix(iface, "tun"):
		return model.LinkTypeTunnel
	case strings.HasPrefix(iface, "wg"):
		return model.LinkTypeWireguard
	case hasRadioMetrics:
		return model.LinkTypeRF
	}
	return model.LinkTypeUnknown
}

func resolvePrimaryInterface(obs *model.NodeObservation) {
	for _, name := range primaryInterfaceNames {
		iface, ok := obs.Interfaces[name]
		if !ok || iface.IPAddress == "" {
			continue
		}
		obs.IPAddress = iface.IPAddress
		obs.MACAddress = iface.MACAddress
		return
	}
}

func parseInterfaces(raw any) map[string]model.Interface {
	list, ok := raw.([]any)
	if !ok {
		return map[string]model.Interface{}
	}
	interfaces := make(map[string]model.Interface, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		iface := model.Interface{
			Name:       str(entry["name"]),
			MACAddress: canonicalMAC(str(entry["mac"])),
			IPAddress:  str(entry["ip"]),
		}
		if iface.IPAddress == "none" {
			iface.IPAddress = ""
		}
		if iface.Name == "" {
			continue
		}
		interfaces[iface.Name] = iface
	}
	return interfaces
}

func parseServices(raw any) []model.Service {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	services := make([]model.Service, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		services = append(services, model.Service{
			Name:     str(entry["name"]),
			Protocol: str(entry["protocol"]),
			Link:     str(entry["link"]),
		})
	}
	return services
}

// parseUpTime converts the "N days, H:MM:SS" uptime string to seconds.
func parseUpTime(value string) *int64 {
	match := upTimeRegex.FindStringSubmatch(value)
	if match == nil {
		return nil
	}
	days, _ := strconv.ParseInt(match[1], 10, 64)
	hours, _ := strconv.ParseInt(match[2], 10, 64)
	minutes, _ := strconv.ParseInt(match[3], 10, 64)
	seconds, _ := strconv.ParseInt(match[4], 10, 64)
	total := 86_400*days + 3_600*hours + 60*minutes + seconds
	return &total
}

func parseLoads(raw any) []float64 {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	loads := make([]float64, 0, len(list))
	for _, item := range list {
		if f := floatPtr(item); f != nil {
			loads = append(loads, *f)
		}
	}
	if len(loads) == 0 {
		return nil
	}
	return loads
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		if v == nil {
			return ""
		}
		return fmt.Sprintf("%v", v)
	}
}

// floatPtr coerces JSON numbers and numeric strings; anything else stays nil
// so unknown values are never mistaken for zero.
func floatPtr(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		if t == "" {
			return nil
		}
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil
		}
		return &f
	}
	return nil
}

func intPtr(v any) *int {
	f := floatPtr(v)
	if f == nil {
		return nil
	}
	n := int(*f)
	return &n
}

func boolVal(v any) (value, ok bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(t) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no", "":
			return false, true
		}
	case float64:
		return t != 0, true
	}
	return false, false
}

func canonicalMAC(v string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(v), ":", ""))
}
