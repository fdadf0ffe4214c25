package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/meshtools/meshwatch/internal/model"
)

var ErrNotFound = errors.New("not found")

// KnownNodes returns the nodes eligible for identity matching: those whose
// status is current or recent. Inactive rows are history and never returned.
func (r *Repository) KnownNodes(ctx context.Context) ([]model.Node, error) {
	return r.queryNodes(ctx, `WHERE status IN (?, ?)`,
		string(model.StatusCurrent), string(model.StatusRecent))
}

func (r *Repository) ListNodes(ctx context.Context) ([]model.Node, error) {
	return r.queryNodes(ctx, ``)
}

func (r *Repository) GetNode(ctx context.Context, id string) (model.Node, error) {
	nodes, err := r.queryNodes(ctx, `WHERE id = ?`, id)
	if err != nil {
		return model.Node{}, err
	}
	if len(nodes) == 0 {
		return model.Node{}, fmt.Errorf("%w: node %s", ErrNotFound, id)
	}
	return nodes[0], nil
}

func (r *Repository) queryNodes(ctx context.Context, where string, args ...any) ([]model.Node, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, display_name, wlan_ip, mac_address, description, model,
			board_id, firmware_version, firmware_mfg, api_version, ssid, channel,
			channel_bandwidth, band, latitude, longitude, grid_square,
			up_time_seconds, load_averages_json, services_json,
			active_tunnel_count, link_count, radio_link_count, dtd_link_count,
			tunnel_link_count, status, first_seen, last_seen
		FROM nodes `+where+` ORDER BY name, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Node
	for rows.Next() {
		var (
			node                          model.Node
			mac, desc, nodeModel, board   sql.NullString
			fwVersion, fwMfg, api, ssid   sql.NullString
			channel, chanBW, grid         sql.NullString
			band, status                  string
			lat, lon                      sql.NullFloat64
			upTime, linkCount, radioCount sql.NullInt64
			dtdCount                      sql.NullInt64
			loadsJSON, servicesJSON       sql.NullString
			firstSeen, lastSeen           string
		)
		if err := rows.Scan(&node.ID, &node.Name, &node.DisplayName, &node.WLANIP,
			&mac, &desc, &nodeModel, &board, &fwVersion, &fwMfg, &api, &ssid,
			&channel, &chanBW, &band, &lat, &lon, &grid, &upTime, &loadsJSON,
			&servicesJSON, &node.ActiveTunnelCount, &linkCount, &radioCount,
			&dtdCount, &node.TunnelLinkCount, &status, &firstSeen, &lastSeen,
		); err != nil {
			return nil, err
		}
		node.MACAddress = mac.String
		node.Description = desc.String
		node.Model = nodeModel.String
		node.BoardID = board.String
		node.FirmwareVersion = fwVersion.String
		node.FirmwareMfg = fwMfg.String
		node.APIVersion = api.String
		node.SSID = ssid.String
		node.Channel = channel.String
		node.ChannelBandwidth = chanBW.String
		node.GridSquare = grid.String
		node.Band = model.Band(band)
		node.Latitude = toFloatPtr(lat)
		node.Longitude = toFloatPtr(lon)
		node.UpTimeSeconds = toInt64Ptr(upTime)
		node.LinkCount = toIntPtr(linkCount)
		node.RadioLinkCount = toIntPtr(radioCount)
		node.DTDLinkCount = toIntPtr(dtdCount)
		node.Status = model.Status(status)
		node.FirstSeen = parseTime(firstSeen)
		node.LastSeen = parseTime(lastSeen)
		if loadsJSON.Valid && loadsJSON.String != "" {
			_ = json.Unmarshal([]byte(loadsJSON.String), &node.LoadAverages)
		}
		if servicesJSON.Valid && servicesJSON.String != "" {
			_ = json.Unmarshal([]byte(servicesJSON.String), &node.Services)
		}
		result = append(result, node)
	}
	return result, rows.Err()
}

func (r *Repository) UpsertNodes(ctx context.Context, nodes []model.Node) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nodes (id, name, display_name, wlan_ip, mac_address,
			description, model, board_id, firmware_version, firmware_mfg,
			api_version, ssid, channel, channel_bandwidth, band, latitude,
			longitude, grid_square, up_time_seconds, load_averages_json,
			services_json, active_tunnel_count, link_count, radio_link_count,
			dtd_link_count, tunnel_link_count, status, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			display_name=excluded.display_name,
			wlan_ip=excluded.wlan_ip,
			mac_address=excluded.mac_address,
			description=excluded.description,
			model=excluded.model,
			board_id=excluded.board_id,
			firmware_version=excluded.firmware_version,
			firmware_mfg=excluded.firmware_mfg,
			api_version=excluded.api_version,
			ssid=excluded.ssid,
			channel=excluded.channel,
			channel_bandwidth=excluded.channel_bandwidth,
			band=excluded.band,
			latitude=excluded.latitude,
			longitude=excluded.longitude,
			grid_square=excluded.grid_square,
			up_time_seconds=excluded.up_time_seconds,
			load_averages_json=excluded.load_averages_json,
			services_json=excluded.services_json,
			active_tunnel_count=excluded.active_tunnel_count,
			link_count=excluded.link_count,
			radio_link_count=excluded.radio_link_count,
			dtd_link_count=excluded.dtd_link_count,
			tunnel_link_count=excluded.tunnel_link_count,
			status=excluded.status,
			last_seen=excluded.last_seen`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, node := range nodes {
		if _, err := stmt.ExecContext(ctx,
			node.ID, node.Name, node.DisplayName, node.WLANIP, node.MACAddress,
			node.Description, node.Model, node.BoardID, node.FirmwareVersion,
			node.FirmwareMfg, node.APIVersion, node.SSID, node.Channel,
			node.ChannelBandwidth, string(node.Band),
			fromFloatPtr(node.Latitude), fromFloatPtr(node.Longitude),
			node.GridSquare, fromInt64Ptr(node.UpTimeSeconds),
			encodeJSON(node.LoadAverages), encodeJSON(node.Services),
			node.ActiveTunnelCount, fromIntPtr(node.LinkCount),
			fromIntPtr(node.RadioLinkCount), fromIntPtr(node.DTDLinkCount),
			node.TunnelLinkCount, string(node.Status),
			formatTime(node.FirstSeen), formatTime(node.LastSeen),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repository) ListLinks(ctx context.Context) ([]model.Link, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT source_id, destination_id, type, quality, neighbor_quality,
			signal, noise, tx_rate, rx_rate, cost, distance_km, bearing,
			status, last_seen
		FROM links ORDER BY source_id, destination_id, type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Link
	for rows.Next() {
		var (
			link                     model.Link
			linkType, status         string
			quality, nq              sql.NullFloat64
			signal, noise            sql.NullInt64
			tx, rx, cost, dist, brng sql.NullFloat64
			lastSeen                 string
		)
		if err := rows.Scan(&link.SourceID, &link.DestinationID, &linkType,
			&quality, &nq, &signal, &noise, &tx, &rx, &cost, &dist, &brng,
			&status, &lastSeen,
		); err != nil {
			return nil, err
		}
		link.Type = model.LinkType(linkType)
		link.Quality = toFloatPtr(quality)
		link.NeighborQuality = toFloatPtr(nq)
		link.Signal = toIntPtr(signal)
		link.Noise = toIntPtr(noise)
		link.TxRate = toFloatPtr(tx)
		link.RxRate = toFloatPtr(rx)
		link.Cost = toFloatPtr(cost)
		link.DistanceKM = toFloatPtr(dist)
		link.Bearing = toFloatPtr(brng)
		link.Status = model.Status(status)
		link.LastSeen = parseTime(lastSeen)
		result = append(result, link)
	}
	return result, rows.Err()
}

func (r *Repository) UpsertLinks(ctx context.Context, links []model.Link) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO links (source_id, destination_id, type, quality,
			neighbor_quality, signal, noise, tx_rate, rx_rate, cost,
			distance_km, bearing, status, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, destination_id, type) DO UPDATE SET
			quality=excluded.quality,
			neighbor_quality=excluded.neighbor_quality,
			signal=excluded.signal,
			noise=excluded.noise,
			tx_rate=excluded.tx_rate,
			rx_rate=excluded.rx_rate,
			cost=excluded.cost,
			distance_km=excluded.distance_km,
			bearing=excluded.bearing,
			status=excluded.status,
			last_seen=excluded.last_seen`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, link := range links {
		if _, err := stmt.ExecContext(ctx,
			link.SourceID, link.DestinationID, string(link.Type),
			fromFloatPtr(link.Quality), fromFloatPtr(link.NeighborQuality),
			fromIntPtr(link.Signal), fromIntPtr(link.Noise),
			fromFloatPtr(link.TxRate), fromFloatPtr(link.RxRate),
			fromFloatPtr(link.Cost), fromFloatPtr(link.DistanceKM),
			fromFloatPtr(link.Bearing), string(link.Status),
			formatTime(link.LastSeen),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RefreshStatuses reclassifies every node and link that was not observed in
// the run at runAt. Status never changes a row's last_seen, so an inactive
// row keeps the timestamp it aged out with.
func (r *Repository) RefreshStatuses(ctx context.Context, runAt, now time.Time, thresholds model.RecencyThresholds) error {
	thresholds = thresholds.Normalize()
	if err := r.refreshTable(ctx, "nodes", "id", runAt, now, thresholds.Node); err != nil {
		return err
	}
	return r.refreshLinkStatuses(ctx, runAt, now, thresholds.Link)
}

func (r *Repository) refreshTable(ctx context.Context, table, key string, runAt, now time.Time, threshold time.Duration) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+key+`, status, last_seen FROM `+table)
	if err != nil {
		return err
	}
	updates := map[string]model.Status{}
	for rows.Next() {
		var id, status, lastSeen string
		if err := rows.Scan(&id, &status, &lastSeen); err != nil {
			rows.Close()
			return err
		}
		next := model.ClassifyStatus(parseTime(lastSeen), runAt, now, threshold)
		if next != model.Status(status) {
			updates[id] = next
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for id, status := range updates {
		if _, err := r.db.ExecContext(ctx,
			`UPDATE `+table+` SET status = ? WHERE `+key+` = ?`,
			string(status), id); err != nil {
			return err
		}
	}
	if len(updates) > 0 && r.logger != nil {
		r.logger.Info("reclassified rows", "table", table, "rows", len(updates))
	}
	return nil
}

func (r *Repository) refreshLinkStatuses(ctx context.Context, runAt, now time.Time, threshold time.Duration) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT source_id, destination_id, type, status, last_seen FROM links`)
	if err != nil {
		return err
	}
	type linkKey struct {
		source, destination, linkType string
	}
	updates := map[linkKey]model.Status{}
	for rows.Next() {
		var source, destination, linkType, status, lastSeen string
		if err := rows.Scan(&source, &destination, &linkType, &status, &lastSeen); err != nil {
			rows.Close()
			return err
		}
		next := model.ClassifyStatus(parseTime(lastSeen), runAt, now, threshold)
		if next != model.Status(status) {
			updates[linkKey{source, destination, linkType}] = next
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for key, status := range updates {
		if _, err := r.db.ExecContext(ctx,
			`UPDATE links SET status = ? WHERE source_id = ? AND destination_id = ? AND type = ?`,
			string(status), key.source, key.destination, key.linkType); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) SavePollRun(ctx context.Context, run *model.PollRun) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO poll_runs (started_at, polling_duration_ms,
			total_duration_ms, node_count, link_count, error_count,
			partial_topology, errors_json, conflicts_json, stats_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(run.StartedAt),
		run.PollingDuration.Milliseconds(),
		run.TotalDuration.Milliseconds(),
		run.NodeCount, run.LinkCount, run.ErrorCount,
		boolToInt(run.PartialTopology),
		encodeJSON(run.Errors), encodeJSON(run.Conflicts),
		encodeJSON(run.Stats),
	)
	if err != nil {
		return err
	}
	run.ID, err = res.LastInsertId()
	return err
}

func (r *Repository) ListPollRuns(ctx context.Context, limit int) ([]model.PollRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, started_at, polling_duration_ms, total_duration_ms,
			node_count, link_count, error_count, partial_topology,
			errors_json, conflicts_json, stats_json
		FROM poll_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.PollRun
	for rows.Next() {
		var (
			run                                  model.PollRun
			startedAt                            string
			pollingMS, totalMS, partial          int64
			errorsJSON, conflictsJSON, statsJSON string
		)
		if err := rows.Scan(&run.ID, &startedAt, &pollingMS, &totalMS,
			&run.NodeCount, &run.LinkCount, &run.ErrorCount, &partial,
			&errorsJSON, &conflictsJSON, &statsJSON,
		); err != nil {
			return nil, err
		}
		run.StartedAt = parseTime(startedAt)
		run.PollingDuration = time.Duration(pollingMS) * time.Millisecond
		run.TotalDuration = time.Duration(totalMS) * time.Millisecond
		run.PartialTopology = partial != 0
		_ = json.Unmarshal([]byte(errorsJSON), &run.Errors)
		_ = json.Unmarshal([]byte(conflictsJSON), &run.Conflicts)
		_ = json.Unmarshal([]byte(statsJSON), &run.Stats)
		run.CountErrors()
		result = append(result, run)
	}
	return result, rows.Err()
}

// InsertNodeSamples records one metrics sample per polled node for the run,
// keeping a time series independent of the mutable node rows.
func (r *Repository) InsertNodeSamples(ctx context.Context, runID int64, nodes []model.Node, observedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO node_samples (run_id, node_id, observed_at,
			up_time_seconds, load_average, link_count)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, node := range nodes {
		var load any
		if len(node.LoadAverages) > 0 {
			load = node.LoadAverages[0]
		}
		if _, err := stmt.ExecContext(ctx, runID, node.ID,
			formatTime(observedAt), fromInt64Ptr(node.UpTimeSeconds),
			load, fromIntPtr(node.LinkCount),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repository) InsertLinkSamples(ctx context.Context, runID int64, links []model.Link, observedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO link_samples (run_id, source_id,
			destination_id, type, observed_at, cost, quality, signal, noise)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, link := range links {
		if _, err := stmt.ExecContext(ctx, runID, link.SourceID,
			link.DestinationID, string(link.Type), formatTime(observedAt),
			fromFloatPtr(link.Cost), fromFloatPtr(link.Quality),
			fromIntPtr(link.Signal), fromIntPtr(link.Noise),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func encodeJSON(v any) string {
	body, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(body)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
