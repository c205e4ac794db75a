// Package roster imports students, courses and memberships from the SIS.
package roster

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/schollz/progressbar/v3"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mariadb"
)

// Source lists the SIS data. *mariadb.Pool implements it.
type Source interface {
	Courses(ctx context.Context) ([]mariadb.SISCourse, error)
	Students(ctx context.Context) ([]mariadb.SISStudent, error)
}

// Result counts the changes made by one sync.
type Result struct {
	Courses     int `json:"courses"`
	Created     int `json:"created"`
	Updated     int `json:"updated"`
	Unchanged   int `json:"unchanged"`
	Skipped     int `json:"skipped"`
	Memberships int `json:"memberships"`
}

type Syncer struct {
	source   Source
	students database.StudentWriter
	courses  database.CourseWriter
}

func NewSyncer(source Source, students database.StudentWriter, courses database.CourseWriter) *Syncer {
	return &Syncer{source: source, students: students, courses: courses}
}

// cleanName collapses whitespace in a display name.
func cleanName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Sync upserts every SIS course, creates or updates every SIS student and
// replaces their memberships. Local students missing from the SIS are kept.
// Photos and templates are never touched.
func (s *Syncer) Sync(ctx context.Context, showProgress bool) (Result, error) {
	var res Result

	sisCourses, err := s.source.Courses(ctx)
	if err != nil {
		return res, err
	}
	courseIDs := make(map[string]int64, len(sisCourses))
	for _, sc := range sisCourses {
		if sc.Code == "" {
			continue
		}
		c := &database.Course{Identifier: sc.Code, Name: cleanName(sc.Title)}
		if c.Name == "" {
			c.Name = sc.Code
		}
		if err := s.courses.UpsertCourse(ctx, c); err != nil {
			return res, fmt.Errorf("course %s: %w", sc.Code, err)
		}
		courseIDs[sc.Code] = c.ID
		res.Courses++
	}

	sisStudents, err := s.source.Students(ctx)
	if err != nil {
		return res, err
	}

	var bar *progressbar.ProgressBar
	if showProgress {
		bar = progressbar.NewOptions(len(sisStudents),
			progressbar.OptionSetDescription("Syncing roster"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("students"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
		)
		defer fmt.Println()
	}

	for _, ss := range sisStudents {
		if bar != nil {
			bar.Add(1)
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		name := cleanName(ss.Name)
		if ss.Number == "" || name == "" {
			res.Skipped++
			continue
		}

		student, err := s.upsertStudent(ctx, ss.Number, name, ss.Email, &res)
		if err != nil {
			return res, err
		}

		ids := make([]int64, 0, len(ss.Courses))
		for _, code := range ss.Courses {
			if id, ok := courseIDs[code]; ok {
				ids = append(ids, id)
			}
		}
		if err := s.courses.SetStudentCourses(ctx, student.ID, ids); err != nil {
			return res, fmt.Errorf("courses of %s: %w", ss.Number, err)
		}
		res.Memberships += len(ids)
	}

	log.Printf("Roster sync: %d courses, %d created, %d updated, %d unchanged, %d skipped",
		res.Courses, res.Created, res.Updated, res.Unchanged, res.Skipped)
	return res, nil
}

func (s *Syncer) upsertStudent(ctx context.Context, number, name, email string, res *Result) (*database.Student, error) {
	existing, err := s.students.GetStudentByExternalID(ctx, number)
	if errors.Is(err, database.ErrNotFound) {
		st := &database.Student{ExternalID: number, Name: name, Email: email}
		if err := s.students.CreateStudent(ctx, st); err != nil {
			return nil, fmt.Errorf("create %s: %w", number, err)
		}
		res.Created++
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up %s: %w", number, err)
	}

	if existing.Name == name && existing.Email == email {
		res.Unchanged++
		return existing, nil
	}
	if database.NormalizeName(existing.Name) != database.NormalizeName(name) {
		log.Printf("Student %s renamed from %q to %q", number, existing.Name, name)
	}
	existing.Name = name
	existing.Email = email
	if err := s.students.UpdateStudent(ctx, existing); err != nil {
		return nil, fmt.Errorf("update %s: %w", number, err)
	}
	res.Updated++
	return existing, nil
}
