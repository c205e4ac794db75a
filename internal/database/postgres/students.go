package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// StudentRepository provides PostgreSQL-backed student storage.
type StudentRepository struct {
	pool *Pool
}

func NewStudentRepository(pool *Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

const studentColumns = `id, external_id, name, email, photo_ref, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudent(row rowScanner) (*database.Student, error) {
	var s database.Student
	if err := row.Scan(&s.ID, &s.ExternalID, &s.Name, &s.Email, &s.PhotoRef, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanStudents(rows *sql.Rows) ([]database.Student, error) {
	defer rows.Close()
	var out []database.Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return out, nil
}

func (r *StudentRepository) getOne(ctx context.Context, where string, arg any) (*database.Student, error) {
	s, err := scanStudent(r.pool.QueryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query student: %w", err)
	}
	return s, nil
}

func (r *StudentRepository) GetStudent(ctx context.Context, id int64) (*database.Student, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *StudentRepository) GetStudentByExternalID(ctx context.Context, externalID string) (*database.Student, error) {
	return r.getOne(ctx, "external_id = $1", externalID)
}

func (r *StudentRepository) ListStudents(ctx context.Context) ([]database.Student, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+studentColumns+` FROM students ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return scanStudents(rows)
}

// FindStudentsByName matches a substring of the normalized name.
// The SQL side mirrors database.NormalizeName: lowercase, unaccent, dashes to spaces.
func (r *StudentRepository) FindStudentsByName(ctx context.Context, name string) ([]database.Student, error) {
	query := `
		SELECT ` + studentColumns + `
		FROM students
		WHERE regexp_replace(LOWER(REPLACE(unaccent(name), '-', ' ')), '\s+', ' ', 'g') LIKE '%' || $1 || '%'
		ORDER BY name, id
	`
	rows, err := r.pool.Query(ctx, query, database.NormalizeName(name))
	if err != nil {
		return nil, fmt.Errorf("find students: %w", err)
	}
	return scanStudents(rows)
}

func (r *StudentRepository) CreateStudent(ctx context.Context, s *database.Student) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO students (external_id, name, email, photo_ref)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, s.ExternalID, s.Name, s.Email, s.PhotoRef).Scan(&s.ID, &s.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("student %s already exists", s.ExternalID)
	}
	if err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

func (r *StudentRepository) UpdateStudent(ctx context.Context, s *database.Student) error {
	res, err := r.pool.Exec(ctx, `
		UPDATE students SET external_id = $2, name = $3, email = $4, photo_ref = $5
		WHERE id = $1
	`, s.ID, s.ExternalID, s.Name, s.Email, s.PhotoRef)
	if err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return expectOne(res)
}

// DeleteStudent relies on the foreign keys: memberships and the enrollment
// cascade, attendance records keep their rows with student_id cleared.
func (r *StudentRepository) DeleteStudent(ctx context.Context, id int64) error {
	res, err := r.pool.Exec(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return database.ErrNotFound
	}
	return nil
}

var _ database.StudentWriter = (*StudentRepository)(nil)
