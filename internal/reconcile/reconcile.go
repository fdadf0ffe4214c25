// Package reconcile maps per-run node observations onto durable identities.
//
// The WLAN IP is the strongest identity signal, then the node name, and only
// nodes still active or recent participate in matching. An identity last held
// by an inactive node gets a fresh id: a node that drops off and returns is a
// new entity, so unrelated uptime histories are never spliced together.
package reconcile

import (
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/meshtools/meshwatch/internal/model"
)

// Result is the outcome of reconciling one run's observations.
type Result struct {
	Nodes     []model.Node
	Conflicts []model.IdentityConflict
	Created   int
	Updated   int
}

// Reconciler assigns observations to known node identities.
type Reconciler struct {
	newID  func() string
	logger *slog.Logger
}

func New(logger *slog.Logger) *Reconciler {
	return &Reconciler{newID: uuid.NewString, logger: logger}
}

// Run reconciles observations against the active/recent known nodes.
// The result is independent of the order observations arrive in.
func (r *Reconciler) Run(observations []*model.NodeObservation, known []model.Node, runAt time.Time) Result {
	byIP := make(map[string]*model.Node, len(known))
	byName := make(map[string]*model.Node, len(known))
	for i := range known {
		node := &known[i]
		if node.WLANIP != "" {
			byIP[node.WLANIP] = node
		}
		if node.Name != "" {
			byName[node.Name] = node
		}
	}

	// completion order from the crawler carries no meaning; a stable identity
	// ordering makes assignments deterministic
	sorted := make([]*model.NodeObservation, len(observations))
	copy(sorted, observations)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].IPAddress != sorted[j].IPAddress {
			return sorted[i].IPAddress < sorted[j].IPAddress
		}
		return sorted[i].Name < sorted[j].Name
	})

	result := Result{}
	claimedNodes := map[string]struct{}{} // known node ids claimed this run
	claimedKeys := map[string]string{}    // identity key -> node id that claimed it

	conflict := func(obs *model.NodeObservation, key, keptID string) {
		// duplicate identity in one run: record both, merge nothing
		fresh := r.mint(obs, runAt)
		result.Nodes = append(result.Nodes, fresh)
		result.Created++
		result.Conflicts = append(result.Conflicts, model.IdentityConflict{
			IdentityKey: key,
			KeptNodeID:  keptID,
			NewNodeID:   fresh.ID,
		})
		r.logger.Warn("identity conflict within run",
			"key", key, "kept", keptID, "duplicate", fresh.ID)
	}

	for _, obs := range sorted {
		match, key := lookup(byIP, byName, obs)

		if match != nil {
			if _, taken := claimedNodes[match.ID]; taken {
				conflict(obs, key, match.ID)
				continue
			}
			claimedNodes[match.ID] = struct{}{}
			claimedKeys[key] = match.ID

			updated := *match
			applyObservation(&updated, obs, runAt)
			result.Nodes = append(result.Nodes, updated)
			result.Updated++
			if updated.Name != match.Name {
				r.logger.Info("node renamed, identity preserved",
					"id", match.ID, "old", match.Name, "new", updated.Name)
			}
			continue
		}

		if keptID, taken := claimedKeys[key]; taken {
			conflict(obs, key, keptID)
			continue
		}
		fresh := r.mint(obs, runAt)
		claimedKeys[key] = fresh.ID
		result.Nodes = append(result.Nodes, fresh)
		result.Created++
	}
	return result
}

func lookup(byIP, byName map[string]*model.Node, obs *model.NodeObservation) (*model.Node, string) {
	if obs.IPAddress != "" {
		if node, ok := byIP[obs.IPAddress]; ok {
			return node, obs.IPAddress
		}
	}
	if node, ok := byName[obs.Name]; ok {
		return node, obs.Name
	}
	if obs.IPAddress != "" {
		return nil, obs.IPAddress
	}
	return nil, obs.Name
}

func (r *Reconciler) mint(obs *model.NodeObservation, runAt time.Time) model.Node {
	node := model.Node{
		ID:        r.newID(),
		FirstSeen: runAt,
	}
	applyObservation(&node, obs, runAt)
	return node
}

func applyObservation(node *model.Node, obs *model.NodeObservation, runAt time.Time) {
	node.Name = obs.Name
	node.DisplayName = obs.DisplayName
	node.WLANIP = obs.IPAddress
	node.MACAddress = obs.MACAddress
	node.Description = obs.Description
	node.Model = obs.Model
	node.BoardID = obs.BoardID
	node.FirmwareVersion = obs.FirmwareVersion
	node.FirmwareMfg = obs.FirmwareMfg
	node.APIVersion = obs.APIVersion
	node.SSID = obs.SSID
	node.Channel = obs.Channel
	node.ChannelBandwidth = obs.ChannelBandwidth
	node.Band = obs.Band
	node.Latitude = obs.Latitude
	node.Longitude = obs.Longitude
	node.GridSquare = obs.GridSquare
	node.UpTimeSeconds = obs.UpTimeSeconds
	node.LoadAverages = obs.LoadAverages
	node.Services = obs.Services
	node.ActiveTunnelCount = obs.ActiveTunnelCount
	node.LinkCount = obs.LinkCount
	node.RadioLinkCount = obs.RadioLinkCount()
	node.DTDLinkCount = obs.DTDLinkCount()
	node.TunnelLinkCount = obs.TunnelLinkCount()
	node.Status = model.StatusCurrent
	node.LastSeen = runAt
}
