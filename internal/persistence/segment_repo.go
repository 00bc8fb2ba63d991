package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"meshgate/internal/domain"
)

type RouteSegmentRepo struct {
	db *sql.DB
}

func NewRouteSegmentRepo(db *sql.DB) *RouteSegmentRepo {
	return &RouteSegmentRepo{db: db}
}

func (r *RouteSegmentRepo) Upsert(ctx context.Context, s domain.RouteSegment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO route_segments(from_node, to_node, last_seen, hops_observed)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(from_node, to_node) DO UPDATE SET
			last_seen = excluded.last_seen,
			hops_observed = excluded.hops_observed
	`, int64(s.FromNodeNum), int64(s.ToNodeNum), toUnixMillis(s.LastSeen), s.HopsObserved)
	if err != nil {
		return fmt.Errorf("upsert route segment: %w", err)
	}

	return nil
}

func (r *RouteSegmentRepo) List(ctx context.Context) ([]domain.RouteSegment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT from_node, to_node, last_seen, hops_observed
		FROM route_segments
		ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list route segments: %w", err)
	}
	defer rows.Close()

	var out []domain.RouteSegment
	for rows.Next() {
		var (
			s        domain.RouteSegment
			fromNode int64
			toNode   int64
			seenMs   int64
		)
		if err := rows.Scan(&fromNode, &toNode, &seenMs, &s.HopsObserved); err != nil {
			return nil, fmt.Errorf("scan route segment: %w", err)
		}
		s.FromNodeNum = uint32(fromNode)
		s.ToNodeNum = uint32(toNode)
		s.LastSeen = fromUnixMillis(seenMs)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate route segments: %w", err)
	}

	return out, nil
}
