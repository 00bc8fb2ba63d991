package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// RetentionPolicy holds the per-kind cutoffs for the maintenance sweep.
// Zero durations disable purging for that kind.
type RetentionPolicy struct {
	Messages          time.Duration
	Telemetry         time.Duration
	TelemetryFavorite time.Duration
	Traceroutes       time.Duration
	RouteSegments     time.Duration
	NeighborInfo      time.Duration
}

func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		Messages:          90 * 24 * time.Hour,
		Telemetry:         14 * 24 * time.Hour,
		TelemetryFavorite: 90 * 24 * time.Hour,
		Traceroutes:       30 * 24 * time.Hour,
		RouteSegments:     14 * 24 * time.Hour,
		NeighborInfo:      14 * 24 * time.Hour,
	}
}

// Cleaner purges aged rows. RunOnce refuses to overlap itself; the
// automation scheduler drives it on a daily time plus a periodic interval.
type Cleaner struct {
	db      *sql.DB
	logger  *slog.Logger
	policy  RetentionPolicy
	running atomic.Bool
}

func NewCleaner(db *sql.DB, logger *slog.Logger, policy RetentionPolicy) *Cleaner {
	return &Cleaner{db: db, logger: logger.With("component", "cleanup"), policy: policy}
}

func (c *Cleaner) RunOnce(ctx context.Context, now time.Time) error {
	if !c.running.CompareAndSwap(false, true) {
		c.logger.Debug("cleanup already running, skipping")

		return nil
	}
	defer c.running.Store(false)

	start := time.Now()
	total := int64(0)

	steps := []struct {
		name string
		run  func(context.Context, time.Time) (int64, error)
	}{
		{"messages", c.purgeMessages},
		{"telemetry", c.purgeTelemetry},
		{"traceroutes", c.purgeTraceroutes},
		{"route_segments", c.purgeRouteSegments},
		{"neighbor_info", c.purgeNeighborInfo},
	}
	for _, step := range steps {
		n, err := step.run(ctx, now)
		if err != nil {
			return fmt.Errorf("cleanup %s: %w", step.name, err)
		}
		total += n
	}

	c.logger.Info("cleanup finished", "purged", total, "took", time.Since(start))

	return nil
}

func (c *Cleaner) purgeMessages(ctx context.Context, now time.Time) (int64, error) {
	if c.policy.Messages <= 0 {
		return 0, nil
	}
	cutoff := toUnixMillis(now.Add(-c.policy.Messages))

	return c.exec(ctx, `
		DELETE FROM messages WHERE COALESCE(rx_time, timestamp, created_at) < ?
	`, cutoff)
}

// purgeTelemetry applies the standard cutoff, except that samples from
// favorited nodes keep the extended window.
func (c *Cleaner) purgeTelemetry(ctx context.Context, now time.Time) (int64, error) {
	if c.policy.Telemetry <= 0 {
		return 0, nil
	}
	cutoff := toUnixMillis(now.Add(-c.policy.Telemetry))
	favCutoff := cutoff
	if c.policy.TelemetryFavorite > 0 {
		favCutoff = toUnixMillis(now.Add(-c.policy.TelemetryFavorite))
	}

	return c.exec(ctx, `
		DELETE FROM telemetry
		WHERE (ts < ? AND node_id NOT IN (
			SELECT printf('!%08x', node_num) FROM nodes WHERE is_favorite = 1
		)) OR ts < ?
	`, cutoff, favCutoff)
}

func (c *Cleaner) purgeTraceroutes(ctx context.Context, now time.Time) (int64, error) {
	if c.policy.Traceroutes <= 0 {
		return 0, nil
	}

	return c.exec(ctx, `DELETE FROM traceroutes WHERE ts < ?`, toUnixMillis(now.Add(-c.policy.Traceroutes)))
}

func (c *Cleaner) purgeRouteSegments(ctx context.Context, now time.Time) (int64, error) {
	if c.policy.RouteSegments <= 0 {
		return 0, nil
	}

	return c.exec(ctx, `DELETE FROM route_segments WHERE last_seen < ?`, toUnixMillis(now.Add(-c.policy.RouteSegments)))
}

func (c *Cleaner) purgeNeighborInfo(ctx context.Context, now time.Time) (int64, error) {
	if c.policy.NeighborInfo <= 0 {
		return 0, nil
	}

	return c.exec(ctx, `DELETE FROM neighbor_info WHERE last_heard < ?`, toUnixMillis(now.Add(-c.policy.NeighborInfo)))
}

func (c *Cleaner) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return n, nil
}

//goland:noinspection SqlWithoutWhere
var clearDatabaseStatements = []string{
	`DELETE FROM messages;`,
	`DELETE FROM nodes;`,
	`DELETE FROM channels;`,
	`DELETE FROM telemetry;`,
	`DELETE FROM traceroutes;`,
	`DELETE FROM route_segments;`,
	`DELETE FROM neighbor_info;`,
}

// ClearDatabase wipes mesh state; settings and the audit log survive.
func ClearDatabase(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("database is not initialized")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear database tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, stmt := range clearDatabaseStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear database tables: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear database tx: %w", err)
	}

	return nil
}
