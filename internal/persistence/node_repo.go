package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"meshgate/internal/domain"
)

type NodeRepo struct {
	db *sql.DB
}

func NewNodeRepo(db *sql.DB) *NodeRepo {
	return &NodeRepo{db: db}
}

func (r *NodeRepo) Upsert(ctx context.Context, n domain.Node) error {
	var (
		hopsAway      any
		snr           any
		rebootCount   any
		chanLastHeard any
		remoteAdmin   any
	)
	if n.HopsAway != nil {
		hopsAway = int64(*n.HopsAway)
	}
	if n.SNR != nil {
		snr = *n.SNR
	}
	if n.RebootCount != nil {
		rebootCount = int64(*n.RebootCount)
	}
	if n.ChannelLastHeard != nil {
		chanLastHeard = int64(*n.ChannelLastHeard)
	}
	if n.HasRemoteAdmin != nil {
		remoteAdmin = boolToInt(*n.HasRemoteAdmin)
	}

	var posJSON, overrideJSON any
	if n.Position != nil {
		posJSON = jsonOrNull(*n.Position)
	}
	if n.PositionOverride != nil {
		overrideJSON = jsonOrNull(*n.PositionOverride)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO nodes(node_num, long_name, short_name, hw_model, role, last_heard,
			hops_away, snr, public_key, is_favorite, is_ignored, is_local,
			firmware_version, reboot_count, channel_last_heard, via_mqtt,
			position_json, position_override_json, override_active, is_mobile,
			key_low_entropy, duplicate_key, key_issue_details,
			has_remote_admin, remote_admin_checked_at, welcomed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_num) DO UPDATE SET
			long_name = excluded.long_name,
			short_name = excluded.short_name,
			hw_model = excluded.hw_model,
			role = excluded.role,
			last_heard = excluded.last_heard,
			hops_away = excluded.hops_away,
			snr = excluded.snr,
			public_key = excluded.public_key,
			is_favorite = excluded.is_favorite,
			is_ignored = excluded.is_ignored,
			is_local = excluded.is_local,
			firmware_version = excluded.firmware_version,
			reboot_count = excluded.reboot_count,
			channel_last_heard = excluded.channel_last_heard,
			via_mqtt = excluded.via_mqtt,
			position_json = excluded.position_json,
			position_override_json = excluded.position_override_json,
			override_active = excluded.override_active,
			is_mobile = excluded.is_mobile,
			key_low_entropy = excluded.key_low_entropy,
			duplicate_key = excluded.duplicate_key,
			key_issue_details = excluded.key_issue_details,
			has_remote_admin = excluded.has_remote_admin,
			remote_admin_checked_at = excluded.remote_admin_checked_at,
			welcomed = excluded.welcomed,
			updated_at = excluded.updated_at
	`, int64(n.NodeNum), n.LongName, n.ShortName, n.HwModel, n.Role, toUnixMillis(n.LastHeard),
		hopsAway, snr, n.PublicKey, boolToInt(n.IsFavorite), boolToInt(n.IsIgnored), boolToInt(n.IsLocal),
		n.FirmwareVersion, rebootCount, chanLastHeard, boolToInt(n.ViaMQTT),
		posJSON, overrideJSON, boolToInt(n.PositionOverrideActive), boolToInt(n.IsMobile),
		boolToInt(n.KeyIsLowEntropy), boolToInt(n.DuplicateKeyDetected), n.KeySecurityIssueDetails,
		remoteAdmin, toUnixMillis(n.RemoteAdminCheckedAt), boolToInt(n.Welcomed), toUnixMillis(n.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert node: %w", err)
	}

	return nil
}

func (r *NodeRepo) List(ctx context.Context) ([]domain.Node, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT node_num, long_name, short_name, hw_model, role, last_heard,
			hops_away, snr, public_key, is_favorite, is_ignored, is_local,
			firmware_version, reboot_count, channel_last_heard, via_mqtt,
			position_json, position_override_json, override_active, is_mobile,
			key_low_entropy, duplicate_key, key_issue_details,
			has_remote_admin, remote_admin_checked_at, welcomed, updated_at
		FROM nodes
		ORDER BY last_heard DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var out []domain.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}

	return out, nil
}

func (r *NodeRepo) Delete(ctx context.Context, nodeNum uint32) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM nodes WHERE node_num = ?`, int64(nodeNum)); err != nil {
		return fmt.Errorf("delete node: %w", err)
	}

	return nil
}

func scanNode(rows *sql.Rows) (domain.Node, error) {
	var (
		n             domain.Node
		nodeNum       int64
		heardMs       int64
		hopsAway      sql.NullInt64
		snr           sql.NullFloat64
		rebootCount   sql.NullInt64
		chanLastHeard sql.NullInt64
		posJSON       sql.NullString
		overrideJSON  sql.NullString
		overrideAct   int64
		isFav         int64
		isIgn         int64
		isLocal       int64
		viaMQTT       int64
		isMobile      int64
		lowEntropy    int64
		dupKey        int64
		remoteAdmin   sql.NullInt64
		remoteCheckMs int64
		welcomed      int64
		updMs         int64
	)
	if err := rows.Scan(&nodeNum, &n.LongName, &n.ShortName, &n.HwModel, &n.Role, &heardMs,
		&hopsAway, &snr, &n.PublicKey, &isFav, &isIgn, &isLocal,
		&n.FirmwareVersion, &rebootCount, &chanLastHeard, &viaMQTT,
		&posJSON, &overrideJSON, &overrideAct, &isMobile,
		&lowEntropy, &dupKey, &n.KeySecurityIssueDetails,
		&remoteAdmin, &remoteCheckMs, &welcomed, &updMs); err != nil {
		return domain.Node{}, fmt.Errorf("scan node: %w", err)
	}
	n.NodeNum = uint32(nodeNum)
	n.LastHeard = fromUnixMillis(heardMs)
	n.UpdatedAt = fromUnixMillis(updMs)
	n.RemoteAdminCheckedAt = fromUnixMillis(remoteCheckMs)
	n.IsFavorite = isFav != 0
	n.IsIgnored = isIgn != 0
	n.IsLocal = isLocal != 0
	n.ViaMQTT = viaMQTT != 0
	n.IsMobile = isMobile != 0
	n.PositionOverrideActive = overrideAct != 0
	n.KeyIsLowEntropy = lowEntropy != 0
	n.DuplicateKeyDetected = dupKey != 0
	n.Welcomed = welcomed != 0
	if hopsAway.Valid {
		v := uint32(hopsAway.Int64)
		n.HopsAway = &v
	}
	if snr.Valid {
		v := snr.Float64
		n.SNR = &v
	}
	if rebootCount.Valid {
		v := uint32(rebootCount.Int64)
		n.RebootCount = &v
	}
	if chanLastHeard.Valid {
		v := uint32(chanLastHeard.Int64)
		n.ChannelLastHeard = &v
	}
	if remoteAdmin.Valid {
		v := remoteAdmin.Int64 != 0
		n.HasRemoteAdmin = &v
	}
	if posJSON.Valid && posJSON.String != "" {
		var p domain.Position
		if err := json.Unmarshal([]byte(posJSON.String), &p); err == nil {
			n.Position = &p
		}
	}
	if overrideJSON.Valid && overrideJSON.String != "" {
		var o domain.PositionOverride
		if err := json.Unmarshal([]byte(overrideJSON.String), &o); err == nil {
			n.PositionOverride = &o
		}
	}

	return n, nil
}
