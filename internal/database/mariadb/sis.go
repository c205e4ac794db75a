package mariadb

import (
	"context"
	"fmt"
	"strings"
)

// SISCourse is a course as published by the SIS.
type SISCourse struct {
	Code  string
	Title string
}

// SISStudent is a student with the codes of the courses they attend.
type SISStudent struct {
	Number  string
	Name    string
	Email   string
	Courses []string
}

// Courses returns every active course ordered by code.
func (p *Pool) Courses(ctx context.Context) ([]SISCourse, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT code, title
		FROM courses
		WHERE active = 1
		ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("query SIS courses: %w", err)
	}
	defer rows.Close()

	var out []SISCourse
	for rows.Next() {
		var c SISCourse
		if err := rows.Scan(&c.Code, &c.Title); err != nil {
			return nil, fmt.Errorf("scan SIS course: %w", err)
		}
		c.Code = strings.TrimSpace(c.Code)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate SIS courses: %w", err)
	}
	return out, nil
}

// Students returns every student with their active course memberships,
// ordered by student number.
func (p *Pool) Students(ctx context.Context) ([]SISStudent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT s.student_number, s.full_name, COALESCE(s.email, ''), COALESCE(c.code, '')
		FROM students s
		LEFT JOIN course_enrollments e ON e.student_number = s.student_number
		LEFT JOIN courses c ON c.code = e.course_code AND c.active = 1
		ORDER BY s.student_number, c.code
	`)
	if err != nil {
		return nil, fmt.Errorf("query SIS students: %w", err)
	}
	defer rows.Close()

	var out []SISStudent
	for rows.Next() {
		var number, name, email, code string
		if err := rows.Scan(&number, &name, &email, &code); err != nil {
			return nil, fmt.Errorf("scan SIS student: %w", err)
		}
		number = strings.TrimSpace(number)
		if len(out) == 0 || out[len(out)-1].Number != number {
			out = append(out, SISStudent{Number: number, Name: name, Email: strings.TrimSpace(email)})
		}
		if code != "" {
			last := &out[len(out)-1]
			last.Courses = append(last.Courses, strings.TrimSpace(code))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate SIS students: %w", err)
	}
	return out, nil
}
