package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/capture"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/kozaktomas/face-attendance/internal/enroll"
	"github.com/kozaktomas/face-attendance/internal/extractor"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/notify"
	"github.com/kozaktomas/face-attendance/internal/reprocess"
	"github.com/kozaktomas/face-attendance/internal/templates"
)

// app holds the components shared by the commands.
type app struct {
	cfg        *config.Config
	pool       *postgres.Pool
	repos      *postgres.Repositories
	extractor  *extractor.Client
	matcher    *facematch.Matcher
	templates  *templates.Store
	files      *capture.FileStore
	enroller   *enroll.Enroller
	dispatcher *notify.Dispatcher
	reconciler *attendance.Reconciler
}

// openApp connects to the database and builds the matching pipeline. With
// loadTemplates the persisted enrollments are loaded into the template store.
func openApp(ctx context.Context, loadTemplates bool) (*app, error) {
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	repos := postgres.NewRepositories(pool)

	files, err := capture.NewFileStore(cfg.Capture.Dir)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to open capture directory: %w", err)
	}

	ex := extractor.NewClient(cfg.Embedding.URL, cfg.Embedding.Dim)
	matcher := facematch.NewMatcher(ex,
		facematch.WithThreshold(cfg.Matching.Threshold),
		facematch.WithMinFaceHeightRatio(cfg.Matching.MinFaceHeightRatio),
	)
	store := templates.NewStore(cfg.Embedding.Dim, templates.WithIndexThreshold(cfg.Matching.IndexMinTemplates))

	a := &app{
		cfg:        cfg,
		pool:       pool,
		repos:      repos,
		extractor:  ex,
		matcher:    matcher,
		templates:  store,
		files:      files,
		enroller:   enroll.New(repos.Students, repos.Enrollments, matcher, store, files, ex),
		dispatcher: notify.NewDispatcher(repos.Outbox, newNotifier(cfg.Mail)),
	}
	a.reconciler = attendance.NewReconciler(repos.Students, repos.Courses, repos.Attendance, a.dispatcher)

	if loadTemplates {
		n, err := a.enroller.LoadAll(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to load templates: %w", err)
		}
		fmt.Printf("Loaded %d face templates\n", n)
	}
	return a, nil
}

func newNotifier(cfg config.MailConfig) notify.Notifier {
	if cfg.Enabled() {
		fmt.Printf("Email notifications via %s:%d\n", cfg.Server, cfg.Port)
		return notify.NewSMTPNotifier(cfg)
	}
	fmt.Println("MAIL_SERVER not set, notifications are logged only")
	return notify.LogNotifier{}
}

func (a *app) reprocessor() *reprocess.Reprocessor {
	return reprocess.New(a.repos.Attendance, a.files, a.matcher, a.templates, a.cfg.Reprocess.BatchSize)
}

func (a *app) Close() {
	a.pool.Close()
}

// seedCourses creates the seed courses when no course exists yet.
func seedCourses(ctx context.Context, courses database.CourseWriter, seedFile string) (int, error) {
	existing, err := courses.ListCourses(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}

	seed, err := config.LoadSeed(seedFile)
	if err != nil {
		return 0, err
	}
	for _, sc := range seed.Courses {
		if err := courses.CreateCourse(ctx, &database.Course{Identifier: sc.Identifier, Name: sc.Name}); err != nil {
			return 0, fmt.Errorf("create course %s: %w", sc.Identifier, err)
		}
	}
	return len(seed.Courses), nil
}
