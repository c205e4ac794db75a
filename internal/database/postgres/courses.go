package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// CourseRepository provides PostgreSQL-backed course and roster storage.
type CourseRepository struct {
	pool *Pool
}

func NewCourseRepository(pool *Pool) *CourseRepository {
	return &CourseRepository{pool: pool}
}

func scanCourses(rows *sql.Rows) ([]database.Course, error) {
	defer rows.Close()
	var out []database.Course
	for rows.Next() {
		var c database.Course
		if err := rows.Scan(&c.ID, &c.Identifier, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate courses: %w", err)
	}
	return out, nil
}

func (r *CourseRepository) getOne(ctx context.Context, where string, arg any) (*database.Course, error) {
	var c database.Course
	err := r.pool.QueryRow(ctx, `SELECT id, identifier, name, created_at FROM courses WHERE `+where, arg).
		Scan(&c.ID, &c.Identifier, &c.Name, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query course: %w", err)
	}
	return &c, nil
}

func (r *CourseRepository) GetCourse(ctx context.Context, id int64) (*database.Course, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *CourseRepository) GetCourseByIdentifier(ctx context.Context, identifier string) (*database.Course, error) {
	return r.getOne(ctx, "identifier = $1", identifier)
}

func (r *CourseRepository) ListCourses(ctx context.Context) ([]database.Course, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, identifier, name, created_at FROM courses ORDER BY identifier`)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	return scanCourses(rows)
}

func (r *CourseRepository) Roster(ctx context.Context, courseID int64) ([]database.Student, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.external_id, s.name, s.email, s.photo_ref, s.created_at
		FROM students s
		JOIN course_students cs ON cs.student_id = s.id
		WHERE cs.course_id = $1
		ORDER BY s.name, s.id
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}
	return scanStudents(rows)
}

func (r *CourseRepository) StudentCourses(ctx context.Context, studentID int64) ([]database.Course, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT c.id, c.identifier, c.name, c.created_at
		FROM courses c
		JOIN course_students cs ON cs.course_id = c.id
		WHERE cs.student_id = $1
		ORDER BY c.identifier
	`, studentID)
	if err != nil {
		return nil, fmt.Errorf("query student courses: %w", err)
	}
	return scanCourses(rows)
}

func (r *CourseRepository) CreateCourse(ctx context.Context, c *database.Course) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO courses (identifier, name) VALUES ($1, $2)
		RETURNING id, created_at
	`, c.Identifier, c.Name).Scan(&c.ID, &c.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("course %s already exists", c.Identifier)
	}
	if err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

func (r *CourseRepository) UpsertCourse(ctx context.Context, c *database.Course) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO courses (identifier, name) VALUES ($1, $2)
		ON CONFLICT (identifier) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, created_at
	`, c.Identifier, c.Name).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert course: %w", err)
	}
	return nil
}

// SetStudentCourses replaces the memberships of a student in one transaction.
func (r *CourseRepository) SetStudentCourses(ctx context.Context, studentID int64, courseIDs []int64) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM students WHERE id = $1)`, studentID).Scan(&exists); err != nil {
		return fmt.Errorf("check student: %w", err)
	}
	if !exists {
		return database.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM course_students WHERE student_id = $1`, studentID); err != nil {
		return fmt.Errorf("clear memberships: %w", err)
	}
	if len(courseIDs) > 0 {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO course_students (course_id, student_id)
			SELECT c.id, $2 FROM courses c WHERE c.id = ANY($1)
			ON CONFLICT DO NOTHING
		`, pq.Array(courseIDs), studentID)
		if err != nil {
			return fmt.Errorf("insert memberships: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if int(n) != len(uniqueIDs(courseIDs)) {
			return fmt.Errorf("unknown course in %v: %w", courseIDs, database.ErrNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit memberships: %w", err)
	}
	return nil
}

func uniqueIDs(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

var _ database.CourseWriter = (*CourseRepository)(nil)
