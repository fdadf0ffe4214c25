package collector

import (
	"time"

	"github.com/meshtools/meshwatch/internal/geo"
	"github.com/meshtools/meshwatch/internal/model"
	"github.com/meshtools/meshwatch/internal/topology"
)

// buildLinks turns per-node link tables into persisted edges between
// reconciled node ids. Endpoints that did not reconcile to a node this run
// are skipped. Nodes too old to report a link table get Unknown-type edges
// synthesized from the routing topology, and nodes that report links without
// a cost get the cost backfilled from the routing topology.
func buildLinks(nodes []model.Node, observations []*model.NodeObservation, topo *topology.Topology, runAt time.Time) []model.Link {
	byIP := make(map[string]*model.Node, len(nodes))
	byName := make(map[string]*model.Node, len(nodes))
	for i := range nodes {
		node := &nodes[i]
		if node.WLANIP != "" {
			byIP[node.WLANIP] = node
		}
		if node.Name != "" {
			byName[node.Name] = node
		}
	}

	type linkKey struct {
		source, destination string
		linkType            model.LinkType
	}
	seen := map[linkKey]struct{}{}
	var links []model.Link

	add := func(link model.Link) {
		key := linkKey{link.SourceID, link.DestinationID, link.Type}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		links = append(links, link)
	}

	for _, obs := range observations {
		source := byIP[obs.IPAddress]
		if source == nil {
			source = byName[obs.Name]
		}
		if source == nil {
			continue
		}

		if len(obs.Links) == 0 {
			// firmware too old to report a link table
			for _, route := range topo.LinksBySource[obs.IPAddress] {
				destination := byIP[route.Destination]
				if destination == nil {
					continue
				}
				cost := route.Cost
				add(decorate(model.Link{
					SourceID:      source.ID,
					DestinationID: destination.ID,
					Type:          model.LinkTypeUnknown,
					Cost:          &cost,
					Status:        model.StatusCurrent,
					LastSeen:      runAt,
				}, source, destination))
			}
			continue
		}

		for _, observed := range obs.Links {
			destination := byName[observed.Destination]
			if destination == nil && observed.DestinationIP != "" {
				destination = byIP[observed.DestinationIP]
			}
			if destination == nil {
				continue
			}
			cost := observed.Cost
			if cost == nil {
				if c, ok := topo.CostTo(obs.IPAddress, observed.DestinationIP); ok {
					cost = &c
				}
			}
			add(decorate(model.Link{
				SourceID:        source.ID,
				DestinationID:   destination.ID,
				Type:            observed.Type,
				Quality:         observed.Quality,
				NeighborQuality: observed.NeighborQuality,
				Signal:          observed.Signal,
				Noise:           observed.Noise,
				TxRate:          observed.TxRate,
				RxRate:          observed.RxRate,
				Cost:            cost,
				Status:          model.StatusCurrent,
				LastSeen:        runAt,
			}, source, destination))
		}
	}
	return links
}

// decorate fills in distance and bearing when both endpoints have coordinates.
func decorate(link model.Link, source, destination *model.Node) model.Link {
	if source.Latitude == nil || source.Longitude == nil ||
		destination.Latitude == nil || destination.Longitude == nil {
		return link
	}
	distance := geo.DistanceKM(*source.Latitude, *source.Longitude,
		*destination.Latitude, *destination.Longitude)
	bearing := geo.Bearing(*source.Latitude, *source.Longitude,
		*destination.Latitude, *destination.Longitude)
	link.DistanceKM = &distance
	link.Bearing = &bearing
	return link
}
