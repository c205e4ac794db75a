package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/capture"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/reprocess"
	"github.com/kozaktomas/face-attendance/internal/scheduler"
	"github.com/kozaktomas/face-attendance/internal/web"
	"github.com/kozaktomas/face-attendance/internal/web/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance server",
	Long: `Start the web server with the camera session, the pending capture
reprocessor, notification delivery and the capture retention job.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().Bool("no-seed", false, "Do not create the seed courses on an empty database")
}

// frameSource picks the camera: the HTTP snapshot endpoint, or a replay
// directory when no camera URL is configured.
func frameSource(cfg config.CaptureConfig) (capture.FrameSource, error) {
	switch {
	case cfg.CameraURL != "":
		fmt.Printf("Camera: %s\n", cfg.CameraURL)
		return capture.NewHTTPSource(cfg.CameraURL), nil
	case cfg.CameraDir != "":
		fmt.Printf("Camera: replaying %s\n", cfg.CameraDir)
		return &capture.DirSource{Dir: cfg.CameraDir, Loop: true}, nil
	}
	return nil, errors.New("CAMERA_URL or CAMERA_DIR environment variable is required")
}

// cleanupCaptures removes capture images older than the retention period.
func cleanupCaptures(files *capture.FileStore, retentionDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	n, err := files.CleanupCaptures(cutoff)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	return n, err
}

func scheduleJobs(ctx context.Context, a *app, reprocessor *reprocess.Reprocessor) (*scheduler.Scheduler, error) {
	jobs := scheduler.New()
	if err := jobs.Every("reprocess", a.cfg.Reprocess.Interval, reprocessor.Run); err != nil {
		return nil, err
	}
	err := jobs.Every("template-reload", a.cfg.Matching.ReloadInterval, func() {
		if _, err := a.enroller.LoadAll(ctx); err != nil {
			log.Printf("Warning: template reload failed: %v", err)
		}
	})
	if err != nil {
		return nil, err
	}
	err = jobs.Add("outbox-sweep", constants.OutboxSweepSpec, func() {
		if _, err := a.dispatcher.Drain(ctx); err != nil {
			log.Printf("Warning: outbox sweep failed: %v", err)
		}
	})
	if err != nil {
		return nil, err
	}
	err = jobs.Add("capture-cleanup", constants.CaptureCleanupSpec, func() {
		if _, err := cleanupCaptures(a.files, a.cfg.Capture.RetentionDays); err != nil {
			log.Printf("Warning: capture cleanup failed: %v", err)
		}
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Printf("Connecting to PostgreSQL database...\n")
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if !mustGetBool(cmd, "no-seed") {
		n, err := seedCourses(ctx, a.repos.Courses, a.cfg.SeedFile)
		if err != nil {
			return fmt.Errorf("failed to seed courses: %w", err)
		}
		if n > 0 {
			fmt.Printf("Created %d seed courses\n", n)
		}
	}

	source, err := frameSource(a.cfg.Capture)
	if err != nil {
		return err
	}
	session := capture.NewSession(source,
		capture.WithDetector(a.extractor),
		capture.WithInterval(a.cfg.Capture.FrameInterval),
		capture.WithRejectRebind(a.cfg.Capture.RejectRebind),
	)
	service := attendance.NewService(session, a.files, a.matcher, a.templates, a.repos.Courses, a.reconciler, session.Events())
	reprocessor := a.reprocessor()

	go a.dispatcher.Run(ctx)
	a.dispatcher.Kick()

	jobs, err := scheduleJobs(ctx, a, reprocessor)
	if err != nil {
		return fmt.Errorf("failed to schedule jobs: %w", err)
	}
	jobs.Start()

	webCfg := a.cfg.Web
	if port := mustGetInt(cmd, "port"); port > 0 {
		webCfg.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		webCfg.Host = host
	}
	server := web.NewServer(webCfg, web.Handlers{
		Courses:  handlers.NewCoursesHandler(a.repos.Courses),
		Students: handlers.NewStudentsHandler(a.repos.Students, a.repos.Courses, a.enroller, a.matcher, a.templates, a.files),
		Capture:  handlers.NewCaptureHandler(session, service, a.repos.Courses),
		Records:  handlers.NewRecordsHandler(a.repos.Attendance, a.repos.Outbox, a.reconciler, reprocessor, a.dispatcher, a.files),
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
		if err := session.Stop(); err != nil {
			fmt.Printf("Error stopping capture session: %v\n", err)
		}
		reprocessor.Stop()
		if err := jobs.Stop(shutdownCtx); err != nil {
			fmt.Printf("Error stopping scheduler: %v\n", err)
		}
		cancel()
	}()

	fmt.Printf("Starting Face Attendance on http://%s\n", webCfg.Addr())
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	<-ctx.Done()
	return nil
}
