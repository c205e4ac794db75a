package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// EnrollmentRepository stores face templates in a pgvector column.
type EnrollmentRepository struct {
	pool *Pool
}

func NewEnrollmentRepository(pool *Pool) *EnrollmentRepository {
	return &EnrollmentRepository{pool: pool}
}

func (r *EnrollmentRepository) GetEnrollment(ctx context.Context, studentID int64) (*database.Enrollment, error) {
	var e database.Enrollment
	var vec pgvector.Vector
	err := r.pool.QueryRow(ctx, `
		SELECT student_id, embedding, model, enrolled_at
		FROM enrollments
		WHERE student_id = $1
	`, studentID).Scan(&e.StudentID, &vec, &e.Model, &e.EnrolledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query enrollment: %w", err)
	}
	e.Embedding = vec.Slice()
	return &e, nil
}

// ListEnrollments returns every template in enrollment order. A replaced
// template keeps its original position.
func (r *EnrollmentRepository) ListEnrollments(ctx context.Context) ([]database.Enrollment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT student_id, embedding, model, enrolled_at
		FROM enrollments
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()

	var out []database.Enrollment
	for rows.Next() {
		var e database.Enrollment
		var vec pgvector.Vector
		if err := rows.Scan(&e.StudentID, &vec, &e.Model, &e.EnrolledAt); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		e.Embedding = vec.Slice()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrollments: %w", err)
	}
	return out, nil
}

func (r *EnrollmentRepository) SaveEnrollment(ctx context.Context, e database.Enrollment) error {
	vec := pgvector.NewVector(e.Embedding)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO enrollments (student_id, embedding, model, enrolled_at)
		VALUES ($1, $2::vector, $3, COALESCE($4, NOW()))
		ON CONFLICT (student_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			model = EXCLUDED.model,
			enrolled_at = EXCLUDED.enrolled_at
	`, e.StudentID, vec, e.Model, nullTime(e.EnrolledAt))
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("student %d: %w", e.StudentID, database.ErrNotFound)
		}
		return fmt.Errorf("save enrollment: %w", err)
	}
	return nil
}

func (r *EnrollmentRepository) DeleteEnrollment(ctx context.Context, studentID int64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM enrollments WHERE student_id = $1`, studentID); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return nil
}

var _ database.EnrollmentWriter = (*EnrollmentRepository)(nil)
