package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// IgnoredRepo tracks the gateway's own ignore list. The flag on the nodes
// table mirrors what the device announces; this table is what survives a
// node purge.
type IgnoredRepo struct {
	db *sql.DB
}

func NewIgnoredRepo(db *sql.DB) *IgnoredRepo {
	return &IgnoredRepo{db: db}
}

func (r *IgnoredRepo) Add(ctx context.Context, nodeNum uint32, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ignored_nodes(node_num, added_at)
		VALUES (?, ?)
		ON CONFLICT(node_num) DO NOTHING
	`, int64(nodeNum), toUnixMillis(at))
	if err != nil {
		return fmt.Errorf("add ignored node: %w", err)
	}

	return nil
}

func (r *IgnoredRepo) Remove(ctx context.Context, nodeNum uint32) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM ignored_nodes WHERE node_num = ?`, int64(nodeNum))
	if err != nil {
		return fmt.Errorf("remove ignored node: %w", err)
	}

	return nil
}

func (r *IgnoredRepo) List(ctx context.Context) ([]uint32, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT node_num FROM ignored_nodes ORDER BY node_num`)
	if err != nil {
		return nil, fmt.Errorf("list ignored nodes: %w", err)
	}
	defer rows.Close()

	var out []uint32
	for rows.Next() {
		var nodeNum int64
		if err := rows.Scan(&nodeNum); err != nil {
			return nil, fmt.Errorf("scan ignored node: %w", err)
		}
		out = append(out, uint32(nodeNum))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ignored nodes: %w", err)
	}

	return out, nil
}
