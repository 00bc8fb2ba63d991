package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"meshgate/internal/domain"
)

type TelemetryRepo struct {
	db *sql.DB
}

func NewTelemetryRepo(db *sql.DB) *TelemetryRepo {
	return &TelemetryRepo{db: db}
}

// Insert is keyed on (node, type, timestamp); replayed samples are ignored.
func (r *TelemetryRepo) Insert(ctx context.Context, s domain.TelemetrySample) error {
	var (
		packetID any
		channel  any
		prec     any
		gpsAcc   any
	)
	if s.PacketID != nil {
		packetID = int64(*s.PacketID)
	}
	if s.Channel != nil {
		channel = int64(*s.Channel)
	}
	if s.PrecisionBits != nil {
		prec = int64(*s.PrecisionBits)
	}
	if s.GPSAccuracy != nil {
		gpsAcc = int64(*s.GPSAccuracy)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO telemetry(node_id, type, ts, value, unit, packet_id, channel, precision_bits, gps_accuracy)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.NodeID, s.Type, toUnixMillis(s.Timestamp), s.Value, s.Unit, packetID, channel, prec, gpsAcc)
	if err != nil {
		return fmt.Errorf("insert telemetry: %w", err)
	}

	return nil
}

func (r *TelemetryRepo) ListByNode(ctx context.Context, nodeID, telemetryType string, since time.Time) ([]domain.TelemetrySample, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT node_id, type, ts, value, unit, packet_id, channel, precision_bits, gps_accuracy
		FROM telemetry
		WHERE node_id = ? AND type = ? AND ts >= ?
		ORDER BY ts ASC
	`, nodeID, telemetryType, toUnixMillis(since))
	if err != nil {
		return nil, fmt.Errorf("list telemetry: %w", err)
	}
	defer rows.Close()

	var out []domain.TelemetrySample
	for rows.Next() {
		var (
			s        domain.TelemetrySample
			tsMs     int64
			packetID sql.NullInt64
			channel  sql.NullInt64
			prec     sql.NullInt64
			gpsAcc   sql.NullInt64
		)
		if err := rows.Scan(&s.NodeID, &s.Type, &tsMs, &s.Value, &s.Unit, &packetID, &channel, &prec, &gpsAcc); err != nil {
			return nil, fmt.Errorf("scan telemetry: %w", err)
		}
		s.Timestamp = fromUnixMillis(tsMs)
		if packetID.Valid {
			v := uint32(packetID.Int64)
			s.PacketID = &v
		}
		if channel.Valid {
			v := uint32(channel.Int64)
			s.Channel = &v
		}
		if prec.Valid {
			v := uint32(prec.Int64)
			s.PrecisionBits = &v
		}
		if gpsAcc.Valid {
			v := uint32(gpsAcc.Int64)
			s.GPSAccuracy = &v
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate telemetry: %w", err)
	}

	return out, nil
}
