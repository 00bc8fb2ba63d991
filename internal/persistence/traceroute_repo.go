package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"meshgate/internal/domain"
)

type TracerouteRepo struct {
	db *sql.DB
}

func NewTracerouteRepo(db *sql.DB) *TracerouteRepo {
	return &TracerouteRepo{db: db}
}

func (r *TracerouteRepo) Insert(ctx context.Context, t domain.Traceroute) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO traceroutes(from_node, to_node, ts, route_json, snr_towards_json, route_back_json, snr_back_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, int64(t.FromNodeNum), int64(t.ToNodeNum), toUnixMillis(t.Timestamp),
		jsonOrNull(t.Route), jsonOrNull(t.SNRTowards), jsonOrNull(t.RouteBack), jsonOrNull(t.SNRBack))
	if err != nil {
		return 0, fmt.Errorf("insert traceroute: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("traceroute id: %w", err)
	}

	return id, nil
}

func (r *TracerouteRepo) ListByNode(ctx context.Context, nodeNum uint32, limit int) ([]domain.Traceroute, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, from_node, to_node, ts, route_json, snr_towards_json, route_back_json, snr_back_json
		FROM traceroutes
		WHERE to_node = ? OR from_node = ?
		ORDER BY ts DESC
		LIMIT ?
	`, int64(nodeNum), int64(nodeNum), limit)
	if err != nil {
		return nil, fmt.Errorf("list traceroutes: %w", err)
	}
	defer rows.Close()

	var out []domain.Traceroute
	for rows.Next() {
		var (
			t         domain.Traceroute
			fromNode  int64
			toNode    int64
			tsMs      int64
			routeJSON sql.NullString
			snrTJSON  sql.NullString
			backJSON  sql.NullString
			snrBJSON  sql.NullString
		)
		if err := rows.Scan(&t.ID, &fromNode, &toNode, &tsMs, &routeJSON, &snrTJSON, &backJSON, &snrBJSON); err != nil {
			return nil, fmt.Errorf("scan traceroute: %w", err)
		}
		t.FromNodeNum = uint32(fromNode)
		t.ToNodeNum = uint32(toNode)
		t.Timestamp = fromUnixMillis(tsMs)
		// A stored route that fails to parse leaves Route nil, which the
		// domain renders as the unparseable hop count.
		t.Route = decodeUint32JSON(routeJSON)
		t.SNRTowards = decodeInt32JSON(snrTJSON)
		t.RouteBack = decodeUint32JSON(backJSON)
		t.SNRBack = decodeInt32JSON(snrBJSON)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traceroutes: %w", err)
	}

	return out, nil
}

func decodeUint32JSON(s sql.NullString) []uint32 {
	if !s.Valid || s.String == "" {
		return nil
	}
	var out []uint32
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil
	}

	return out
}

func decodeInt32JSON(s sql.NullString) []int32 {
	if !s.Valid || s.String == "" {
		return nil
	}
	var out []int32
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil
	}

	return out
}
