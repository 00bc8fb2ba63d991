package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"meshgate/internal/domain"
)

type ChannelRepo struct {
	db *sql.DB
}

func NewChannelRepo(db *sql.DB) *ChannelRepo {
	return &ChannelRepo{db: db}
}

func (r *ChannelRepo) Upsert(ctx context.Context, c domain.Channel) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO channels(idx, name, psk, role, uplink_enabled, downlink_enabled, position_precision)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(idx) DO UPDATE SET
			name = excluded.name,
			psk = excluded.psk,
			role = excluded.role,
			uplink_enabled = excluded.uplink_enabled,
			downlink_enabled = excluded.downlink_enabled,
			position_precision = excluded.position_precision
	`, c.Index, c.Name, c.PSK, int(c.Role), boolToInt(c.UplinkEnabled), boolToInt(c.DownlinkEnabled), int64(c.PositionPrecision))
	if err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}

	return nil
}

func (r *ChannelRepo) List(ctx context.Context) ([]domain.Channel, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT idx, name, psk, role, uplink_enabled, downlink_enabled, position_precision
		FROM channels
		ORDER BY idx ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []domain.Channel
	for rows.Next() {
		var (
			c        domain.Channel
			role     int64
			uplink   int64
			downlink int64
			prec     int64
		)
		if err := rows.Scan(&c.Index, &c.Name, &c.PSK, &role, &uplink, &downlink, &prec); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		c.Role = domain.ChannelRole(role)
		c.UplinkEnabled = uplink != 0
		c.DownlinkEnabled = downlink != 0
		c.PositionPrecision = uint32(prec)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}

	return out, nil
}
