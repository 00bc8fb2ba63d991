package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"meshgate/internal/domain"
)

type NeighborRepo struct {
	db *sql.DB
}

func NewNeighborRepo(db *sql.DB) *NeighborRepo {
	return &NeighborRepo{db: db}
}

// Upsert keeps one record per unordered pair; the most recent report wins
// regardless of which side announced it.
func (r *NeighborRepo) Upsert(ctx context.Context, n domain.NeighborRecord) error {
	low, high := n.NodeNum, n.NeighborNodeNum
	if low > high {
		low, high = high, low
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO neighbor_info(pair_low, pair_high, node_num, neighbor_node_num, snr, last_heard)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(pair_low, pair_high) DO UPDATE SET
			node_num = excluded.node_num,
			neighbor_node_num = excluded.neighbor_node_num,
			snr = excluded.snr,
			last_heard = excluded.last_heard
	`, int64(low), int64(high), int64(n.NodeNum), int64(n.NeighborNodeNum), n.SNR, toUnixMillis(n.LastHeard))
	if err != nil {
		return fmt.Errorf("upsert neighbor: %w", err)
	}

	return nil
}

func (r *NeighborRepo) List(ctx context.Context) ([]domain.NeighborRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT node_num, neighbor_node_num, snr, last_heard
		FROM neighbor_info
		ORDER BY last_heard DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list neighbors: %w", err)
	}
	defer rows.Close()

	var out []domain.NeighborRecord
	for rows.Next() {
		var (
			n        domain.NeighborRecord
			nodeNum  int64
			neighbor int64
			heardMs  int64
		)
		if err := rows.Scan(&nodeNum, &neighbor, &n.SNR, &heardMs); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		n.NodeNum = uint32(nodeNum)
		n.NeighborNodeNum = uint32(neighbor)
		n.LastHeard = fromUnixMillis(heardMs)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate neighbors: %w", err)
	}

	return out, nil
}
