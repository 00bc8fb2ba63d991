package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"meshgate/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, from_node, to_node, text, channel, portnum, request_id,
	timestamp, rx_time, hop_start, hop_limit, relay_node, reply_id, emoji, via_mqtt,
	rx_snr, rx_rssi, want_ack, ack_failed, routing_error, delivery_state, ack_from_node,
	created_at, decrypted_by`

// Insert writes the message unless a row with the same id already exists.
// Duplicates arriving through independent paths collapse to the first write.
func (r *MessageRepo) Insert(ctx context.Context, m domain.Message) (bool, error) {
	var (
		requestID any
		timestamp any
		rxTime    any
		hopStart  any
		hopLimit  any
		relayNode any
		replyID   any
		rxSNR     any
		rxRSSI    any
		ackFrom   any
	)
	if m.RequestID != nil {
		requestID = int64(*m.RequestID)
	}
	// Zero times are stored as NULL so COALESCE(rx_time, timestamp) orders
	// sender-clock-only and receive-only messages consistently.
	if !m.Timestamp.IsZero() {
		timestamp = toUnixMillis(m.Timestamp)
	}
	if !m.RxTime.IsZero() {
		rxTime = toUnixMillis(m.RxTime)
	}
	if m.HopStart != nil {
		hopStart = int64(*m.HopStart)
	}
	if m.HopLimit != nil {
		hopLimit = int64(*m.HopLimit)
	}
	if m.RelayNode != nil {
		relayNode = int64(*m.RelayNode)
	}
	if m.ReplyID != nil {
		replyID = int64(*m.ReplyID)
	}
	if m.RxSNR != nil {
		rxSNR = *m.RxSNR
	}
	if m.RxRSSI != nil {
		rxRSSI = int64(*m.RxRSSI)
	}
	if m.AckFromNode != nil {
		ackFrom = int64(*m.AckFromNode)
	}
	state := m.DeliveryState
	if state == "" {
		state = domain.DeliveryPending
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages(`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, int64(m.FromNodeNum), int64(m.ToNodeNum), m.Text, m.Channel, m.Portnum, requestID,
		timestamp, rxTime, hopStart, hopLimit, relayNode, replyID, boolToInt(m.Emoji), boolToInt(m.ViaMQTT),
		rxSNR, rxRSSI, boolToInt(m.WantAck), boolToInt(m.AckFailed), boolToInt(m.RoutingErrorReceived),
		string(state), ackFrom, toUnixMillis(m.CreatedAt), m.DecryptedBy)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert message rows: %w", err)
	}

	return affected > 0, nil
}

func (r *MessageRepo) ByID(ctx context.Context, id string) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE id = ?
	`, id)
	m, err := scanMessageRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("message by id: %w", err)
	}

	return &m, nil
}

func (r *MessageRepo) ByRequestID(ctx context.Context, requestID uint32) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE request_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, int64(requestID))
	m, err := scanMessageRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("message by request id: %w", err)
	}

	return &m, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit < domain.MessageLimitMin {
		limit = domain.MessageLimitMin
	}
	if limit > domain.MessageLimitMax {
		limit = domain.MessageLimitMax
	}
	if offset < 0 {
		offset = 0
	}
	if offset > domain.MessageOffsetMax {
		offset = domain.MessageOffsetMax
	}

	return limit, offset
}

func (r *MessageRepo) ByChannel(ctx context.Context, channel int, limit, offset int) (domain.MessagePage, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE channel = ?
		ORDER BY COALESCE(rx_time, timestamp) DESC, id DESC
		LIMIT ? OFFSET ?
	`, channel, limit+1, offset)
	if err != nil {
		return domain.MessagePage{}, fmt.Errorf("messages by channel: %w", err)
	}
	defer rows.Close()

	return collectPage(rows, limit)
}

func (r *MessageRepo) Direct(ctx context.Context, a, b uint32, limit, offset int) (domain.MessagePage, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE channel = ?
			AND portnum = 'TEXT_MESSAGE_APP'
			AND ((from_node = ? AND to_node = ?) OR (from_node = ? AND to_node = ?))
		ORDER BY COALESCE(rx_time, timestamp) DESC, id DESC
		LIMIT ? OFFSET ?
	`, domain.DirectChannel, int64(a), int64(b), int64(b), int64(a), limit+1, offset)
	if err != nil {
		return domain.MessagePage{}, fmt.Errorf("direct messages: %w", err)
	}
	defer rows.Close()

	return collectPage(rows, limit)
}

func (r *MessageRepo) SetDeliveryState(ctx context.Context, id string, state domain.DeliveryState, ackFrom *uint32) error {
	var ackVal any
	if ackFrom != nil {
		ackVal = int64(*ackFrom)
	}
	if _, err := r.db.ExecContext(ctx, `
		UPDATE messages SET delivery_state = ?, ack_from_node = COALESCE(?, ack_from_node)
		WHERE id = ?
	`, string(state), ackVal, id); err != nil {
		return fmt.Errorf("set delivery state: %w", err)
	}

	return nil
}

func (r *MessageRepo) MarkAckFailed(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE messages SET ack_failed = 1, delivery_state = ? WHERE id = ?
	`, string(domain.DeliveryFailed), id); err != nil {
		return fmt.Errorf("mark ack failed: %w", err)
	}

	return nil
}

func (r *MessageRepo) MarkRoutingError(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE messages SET routing_error = 1, delivery_state = ? WHERE id = ?
	`, string(domain.DeliveryFailed), id); err != nil {
		return fmt.Errorf("mark routing error: %w", err)
	}

	return nil
}

func collectPage(rows *sql.Rows, limit int) (domain.MessagePage, error) {
	var page domain.MessagePage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return domain.MessagePage{}, err
		}
		page.Messages = append(page.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return domain.MessagePage{}, fmt.Errorf("iterate messages: %w", err)
	}
	if len(page.Messages) > limit {
		page.Messages = page.Messages[:limit]
		page.HasMore = true
	}

	return page, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(s rowScanner) (domain.Message, error) {
	var (
		m         domain.Message
		fromNode  int64
		toNode    int64
		requestID sql.NullInt64
		tsMs      sql.NullInt64
		rxMs      sql.NullInt64
		hopStart  sql.NullInt64
		hopLimit  sql.NullInt64
		relayNode sql.NullInt64
		replyID   sql.NullInt64
		emoji     int64
		viaMQTT   int64
		rxSNR     sql.NullFloat64
		rxRSSI    sql.NullInt64
		wantAck   int64
		ackFailed int64
		routErr   int64
		state     string
		ackFrom   sql.NullInt64
		createdMs int64
	)
	if err := s.Scan(&m.ID, &fromNode, &toNode, &m.Text, &m.Channel, &m.Portnum, &requestID,
		&tsMs, &rxMs, &hopStart, &hopLimit, &relayNode, &replyID, &emoji, &viaMQTT,
		&rxSNR, &rxRSSI, &wantAck, &ackFailed, &routErr, &state, &ackFrom,
		&createdMs, &m.DecryptedBy); err != nil {
		return domain.Message{}, err
	}
	m.FromNodeNum = uint32(fromNode)
	m.ToNodeNum = uint32(toNode)
	m.Emoji = emoji != 0
	m.ViaMQTT = viaMQTT != 0
	m.WantAck = wantAck != 0
	m.AckFailed = ackFailed != 0
	m.RoutingErrorReceived = routErr != 0
	m.DeliveryState = domain.DeliveryState(state)
	m.CreatedAt = fromUnixMillis(createdMs)
	if requestID.Valid {
		v := uint32(requestID.Int64)
		m.RequestID = &v
	}
	if tsMs.Valid {
		m.Timestamp = fromUnixMillis(tsMs.Int64)
	}
	if rxMs.Valid {
		m.RxTime = fromUnixMillis(rxMs.Int64)
	}
	if hopStart.Valid {
		v := uint32(hopStart.Int64)
		m.HopStart = &v
	}
	if hopLimit.Valid {
		v := uint32(hopLimit.Int64)
		m.HopLimit = &v
	}
	if relayNode.Valid {
		v := uint32(relayNode.Int64)
		m.RelayNode = &v
	}
	if replyID.Valid {
		v := uint32(replyID.Int64)
		m.ReplyID = &v
	}
	if rxSNR.Valid {
		v := rxSNR.Float64
		m.RxSNR = &v
	}
	if rxRSSI.Valid {
		v := int(rxRSSI.Int64)
		m.RxRSSI = &v
	}
	if ackFrom.Valid {
		v := uint32(ackFrom.Int64)
		m.AckFromNode = &v
	}

	return m, nil
}

func scanMessageRow(row *sql.Row) (domain.Message, error) {
	return scanMessage(row)
}
