package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// AttendanceRepository provides PostgreSQL-backed attendance records.
type AttendanceRepository struct {
	pool *Pool
}

func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

const recordSelect = `
	SELECT a.id, a.student_id, a.course_id, a.date, a.time, a.status, a.confidence, a.capture_ref, a.created_at,
	       COALESCE(s.name, ''), COALESCE(s.external_id, ''), c.identifier
	FROM attendance_records a
	LEFT JOIN students s ON s.id = a.student_id
	JOIN courses c ON c.id = a.course_id
`

func scanRecord(row rowScanner) (*database.AttendanceRecord, error) {
	var rec database.AttendanceRecord
	var studentID sql.NullInt64
	var confidence sql.NullFloat64
	var status string
	err := row.Scan(
		&rec.ID,
		&studentID,
		&rec.CourseID,
		&rec.Date,
		&rec.Time,
		&status,
		&confidence,
		&rec.CaptureRef,
		&rec.CreatedAt,
		&rec.StudentName,
		&rec.StudentExternal,
		&rec.CourseIdentifier,
	)
	if err != nil {
		return nil, err
	}
	if studentID.Valid {
		rec.StudentID = &studentID.Int64
	}
	if confidence.Valid {
		rec.Confidence = &confidence.Float64
	}
	rec.Date = database.Day(rec.Date)
	if rec.Status, err = database.ParseStatus(status); err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]database.AttendanceRecord, error) {
	defer rows.Close()
	var out []database.AttendanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func (r *AttendanceRepository) GetRecord(ctx context.Context, id int64) (*database.AttendanceRecord, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, recordSelect+` WHERE a.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}
	return rec, nil
}

// filterClause builds the WHERE clause of f. Status is skipped when
// withStatus is false.
func filterClause(f database.RecordFilter, withStatus bool) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !f.From.IsZero() {
		add("a.date >= $%d::date", dateArg(f.From))
	}
	if !f.To.IsZero() {
		add("a.date <= $%d::date", dateArg(f.To))
	}
	if f.CourseID != 0 {
		add("a.course_id = $%d", f.CourseID)
	}
	if withStatus && f.Status != "" {
		add("a.status = $%d", string(f.Status))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *AttendanceRepository) ListRecords(ctx context.Context, f database.RecordFilter) ([]database.AttendanceRecord, error) {
	where, args := filterClause(f, true)
	query := recordSelect + where + ` ORDER BY a.time DESC, a.id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return scanRecords(rows)
}

func (r *AttendanceRepository) ListPending(ctx context.Context, limit int) ([]database.AttendanceRecord, error) {
	query := recordSelect + ` WHERE a.status = 'pending' AND a.capture_ref <> '' ORDER BY a.id`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending records: %w", err)
	}
	return scanRecords(rows)
}

// CountByStatus ignores the status and paging fields of the filter.
func (r *AttendanceRepository) CountByStatus(ctx context.Context, f database.RecordFilter) (map[database.Status]int, error) {
	where, args := filterClause(f, false)
	rows, err := r.pool.Query(ctx, `SELECT a.status, COUNT(*) FROM attendance_records a`+where+` GROUP BY a.status`, args...)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()

	counts := make(map[database.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[database.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

type attendanceTx struct {
	tx *sql.Tx
}

// InsertIfAbsent relies on the partial unique index over
// (student_id, course_id, date); a conflicting insert returns no row.
func (t attendanceTx) InsertIfAbsent(ctx context.Context, rec *database.AttendanceRecord) (bool, error) {
	if rec.StudentID == nil {
		return false, errors.New("insert if absent requires a student")
	}
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO attendance_records (student_id, course_id, date, time, status, confidence, capture_ref)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7)
		ON CONFLICT (student_id, course_id, date) WHERE student_id IS NOT NULL DO NOTHING
		RETURNING id, created_at
	`, *rec.StudentID, rec.CourseID, dateArg(rec.Date), rec.Time, string(rec.Status), rec.Confidence, rec.CaptureRef).
		Scan(&rec.ID, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert record: %w", err)
	}
	rec.Date = database.Day(rec.Date)
	return true, nil
}

func (t attendanceTx) Insert(ctx context.Context, rec *database.AttendanceRecord) error {
	return insertRecord(ctx, t.tx, rec)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertRecord(ctx context.Context, q queryRower, rec *database.AttendanceRecord) error {
	var studentID sql.NullInt64
	if rec.StudentID != nil {
		studentID = sql.NullInt64{Int64: *rec.StudentID, Valid: true}
	}
	err := q.QueryRowContext(ctx, `
		INSERT INTO attendance_records (student_id, course_id, date, time, status, confidence, capture_ref)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7)
		RETURNING id, created_at
	`, studentID, rec.CourseID, dateArg(rec.Date), rec.Time, string(rec.Status), rec.Confidence, rec.CaptureRef).
		Scan(&rec.ID, &rec.CreatedAt)
	if isUniqueViolation(err) {
		return database.ErrAlreadyMarked
	}
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	rec.Date = database.Day(rec.Date)
	return nil
}

func (t attendanceTx) Enqueue(ctx context.Context, e *database.OutboxEntry) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO notification_outbox
			(record_id, batch_id, contact, student_name, course_name, status, date_label, time_label)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, state, created_at
	`, e.RecordID, e.BatchID, e.Contact, e.StudentName, e.CourseName, string(e.Status), e.DateLabel, e.TimeLabel).
		Scan(&e.ID, &e.State, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// WithinTx runs fn in a read-committed transaction and commits when fn
// succeeds.
func (r *AttendanceRepository) WithinTx(ctx context.Context, fn func(tx database.AttendanceTx) error) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(attendanceTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attendance: %w", err)
	}
	return nil
}

func (r *AttendanceRepository) InsertPending(ctx context.Context, courseID int64, at time.Time, captureRef string) (*database.AttendanceRecord, error) {
	rec := &database.AttendanceRecord{
		CourseID:   courseID,
		Date:       at,
		Time:       at,
		Status:     database.StatusPending,
		CaptureRef: captureRef,
	}
	if err := insertRecord(ctx, r.pool.DB(), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *AttendanceRepository) UpdateRecord(ctx context.Context, id int64, upd database.RecordUpdate) error {
	res, err := r.update(ctx, `WHERE id = $1`, id, upd)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r *AttendanceRepository) ResolvePending(ctx context.Context, id int64, upd database.RecordUpdate) error {
	res, err := r.update(ctx, `WHERE id = $1 AND status = 'pending'`, id, upd)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return database.ErrRecordChanged
	}
	return nil
}

func (r *AttendanceRepository) update(ctx context.Context, where string, id int64, upd database.RecordUpdate) (sql.Result, error) {
	if !upd.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", database.ErrInvalidStatus, upd.Status)
	}
	var studentID sql.NullInt64
	if upd.StudentID != nil {
		studentID = sql.NullInt64{Int64: *upd.StudentID, Valid: true}
	}

	res, err := r.pool.Exec(ctx, `
		UPDATE attendance_records SET student_id = $2, status = $3, confidence = $4
		`+where, id, studentID, string(upd.Status), upd.Confidence)
	if isUniqueViolation(err) {
		return nil, database.ErrAlreadyMarked
	}
	if err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}
	return res, nil
}

var _ database.AttendanceWriter = (*AttendanceRepository)(nil)
