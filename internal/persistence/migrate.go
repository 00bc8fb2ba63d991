package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order; PRAGMA user_version tracks progress.
// Node numbers are 32-bit unsigned stored as 64-bit signed integers.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS nodes (
		node_num INTEGER PRIMARY KEY,
		long_name TEXT NOT NULL DEFAULT '',
		short_name TEXT NOT NULL DEFAULT '',
		hw_model TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT '',
		last_heard INTEGER NOT NULL DEFAULT 0,
		hops_away INTEGER,
		snr REAL,
		public_key BLOB,
		is_favorite INTEGER NOT NULL DEFAULT 0,
		is_ignored INTEGER NOT NULL DEFAULT 0,
		is_local INTEGER NOT NULL DEFAULT 0,
		firmware_version TEXT NOT NULL DEFAULT '',
		reboot_count INTEGER,
		channel_last_heard INTEGER,
		via_mqtt INTEGER NOT NULL DEFAULT 0,
		position_json TEXT,
		position_override_json TEXT,
		override_active INTEGER NOT NULL DEFAULT 0,
		is_mobile INTEGER NOT NULL DEFAULT 0,
		key_low_entropy INTEGER NOT NULL DEFAULT 0,
		duplicate_key INTEGER NOT NULL DEFAULT 0,
		key_issue_details TEXT NOT NULL DEFAULT '',
		has_remote_admin INTEGER,
		remote_admin_checked_at INTEGER NOT NULL DEFAULT 0,
		welcomed INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS channels (
		idx INTEGER PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		psk BLOB,
		role INTEGER NOT NULL DEFAULT 0,
		uplink_enabled INTEGER NOT NULL DEFAULT 0,
		downlink_enabled INTEGER NOT NULL DEFAULT 0,
		position_precision INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		from_node INTEGER NOT NULL,
		to_node INTEGER NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		channel INTEGER NOT NULL DEFAULT 0,
		portnum TEXT NOT NULL DEFAULT '',
		request_id INTEGER,
		timestamp INTEGER,
		rx_time INTEGER,
		hop_start INTEGER,
		hop_limit INTEGER,
		relay_node INTEGER,
		reply_id INTEGER,
		emoji INTEGER NOT NULL DEFAULT 0,
		via_mqtt INTEGER NOT NULL DEFAULT 0,
		rx_snr REAL,
		rx_rssi INTEGER,
		want_ack INTEGER NOT NULL DEFAULT 0,
		ack_failed INTEGER NOT NULL DEFAULT 0,
		routing_error INTEGER NOT NULL DEFAULT 0,
		delivery_state TEXT NOT NULL DEFAULT 'pending',
		ack_from_node INTEGER,
		created_at INTEGER NOT NULL DEFAULT 0,
		decrypted_by TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_messages_channel_time
		ON messages(channel, rx_time, timestamp);
	CREATE INDEX IF NOT EXISTS idx_messages_request ON messages(request_id);
	CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(from_node, to_node);

	CREATE TABLE IF NOT EXISTS telemetry (
		node_id TEXT NOT NULL,
		type TEXT NOT NULL,
		ts INTEGER NOT NULL,
		value REAL NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		packet_id INTEGER,
		channel INTEGER,
		precision_bits INTEGER,
		gps_accuracy INTEGER,
		PRIMARY KEY(node_id, type, ts)
	);

	CREATE TABLE IF NOT EXISTS traceroutes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_node INTEGER NOT NULL,
		to_node INTEGER NOT NULL,
		ts INTEGER NOT NULL,
		route_json TEXT,
		snr_towards_json TEXT,
		route_back_json TEXT,
		snr_back_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_traceroutes_node ON traceroutes(to_node, ts);

	CREATE TABLE IF NOT EXISTS route_segments (
		from_node INTEGER NOT NULL,
		to_node INTEGER NOT NULL,
		last_seen INTEGER NOT NULL,
		hops_observed INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY(from_node, to_node)
	);

	CREATE TABLE IF NOT EXISTS neighbor_info (
		pair_low INTEGER NOT NULL,
		pair_high INTEGER NOT NULL,
		node_num INTEGER NOT NULL,
		neighbor_node_num INTEGER NOT NULL,
		snr REAL NOT NULL DEFAULT 0,
		last_heard INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY(pair_low, pair_high)
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at INTEGER NOT NULL,
		task TEXT NOT NULL,
		target_node INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_audit_task ON audit_log(task, at);

	CREATE TABLE IF NOT EXISTS ignored_nodes (
		node_num INTEGER PRIMARY KEY,
		added_at INTEGER NOT NULL DEFAULT 0
	);
	`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, i+1)); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("bump schema version to %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
