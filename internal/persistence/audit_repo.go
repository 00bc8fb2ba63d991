package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"meshgate/internal/domain"
)

type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Append(ctx context.Context, e domain.AuditEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log(at, task, target_node, outcome, detail)
		VALUES (?, ?, ?, ?, ?)
	`, toUnixMillis(e.At), e.Task, int64(e.TargetNodeNum), e.Outcome, e.Detail)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}

	return nil
}

func (r *AuditRepo) ListRecent(ctx context.Context, task string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT at, task, target_node, outcome, detail
		FROM audit_log
		WHERE task = ?
		ORDER BY at DESC
		LIMIT ?
	`, task, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e      domain.AuditEntry
			atMs   int64
			target int64
		)
		if err := rows.Scan(&atMs, &e.Task, &target, &e.Outcome, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.At = fromUnixMillis(atMs)
		e.TargetNodeNum = uint32(target)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}

	return out, nil
}

// Ensure interface satisfaction across the repo set.
var (
	_ domain.NodeRepository         = (*NodeRepo)(nil)
	_ domain.ChannelRepository      = (*ChannelRepo)(nil)
	_ domain.MessageRepository      = (*MessageRepo)(nil)
	_ domain.TelemetryRepository    = (*TelemetryRepo)(nil)
	_ domain.TracerouteRepository   = (*TracerouteRepo)(nil)
	_ domain.RouteSegmentRepository = (*RouteSegmentRepo)(nil)
	_ domain.NeighborRepository     = (*NeighborRepo)(nil)
	_ domain.SettingsRepository     = (*SettingsRepo)(nil)
	_ domain.AuditRepository        = (*AuditRepo)(nil)
	_ domain.AsyncWriter            = (*WriterQueue)(nil)
)
