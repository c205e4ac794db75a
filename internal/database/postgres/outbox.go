package postgres

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// OutboxRepository is the delivery side of the notification outbox.
type OutboxRepository struct {
	pool *Pool
}

func NewOutboxRepository(pool *Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// ClaimQueued moves up to limit queued entries to sending. Concurrent
// claimers skip each other's rows, so an entry is handed out once.
func (r *OutboxRepository) ClaimQueued(ctx context.Context, limit int) ([]database.OutboxEntry, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE notification_outbox o
		SET state = 'sending', attempted_at = NOW()
		WHERE o.id IN (
			SELECT id FROM notification_outbox
			WHERE state = 'queued'
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING o.id, o.record_id, o.batch_id, o.contact, o.student_name, o.course_name,
		          o.status, o.date_label, o.time_label, o.state, o.error, o.created_at, o.attempted_at
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox: %w", err)
	}
	defer rows.Close()

	var out []database.OutboxEntry
	for rows.Next() {
		var e database.OutboxEntry
		if err := rows.Scan(
			&e.ID,
			&e.RecordID,
			&e.BatchID,
			&e.Contact,
			&e.StudentName,
			&e.CourseName,
			&e.Status,
			&e.DateLabel,
			&e.TimeLabel,
			&e.State,
			&e.Error,
			&e.CreatedAt,
			&e.AttemptedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	slices.SortFunc(out, func(a, b database.OutboxEntry) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *OutboxRepository) setState(ctx context.Context, id int64, state database.OutboxState, reason string) error {
	res, err := r.pool.Exec(ctx, `UPDATE notification_outbox SET state = $2, error = $3 WHERE id = $1`,
		id, string(state), reason)
	if err != nil {
		return fmt.Errorf("update outbox entry: %w", err)
	}
	return expectOne(res)
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id int64) error {
	return r.setState(ctx, id, database.OutboxSent, "")
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	return r.setState(ctx, id, database.OutboxFailed, reason)
}

func (r *OutboxRepository) OutboxStats(ctx context.Context) (map[database.OutboxState]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT state, COUNT(*) FROM notification_outbox GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("outbox stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[database.OutboxState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan outbox stats: %w", err)
		}
		stats[database.OutboxState(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox stats: %w", err)
	}
	return stats, nil
}

var _ database.OutboxStore = (*OutboxRepository)(nil)
