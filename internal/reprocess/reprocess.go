// Package reprocess resolves pending attendance records against the current
// template snapshot.
package reprocess

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/templates"
)

// ErrStopped is returned by RunOnce after Stop.
var ErrStopped = errors.New("reprocessor stopped")

// ImageReader loads stored capture images.
type ImageReader interface {
	Read(ref string) ([]byte, error)
}

// Result summarizes one sweep.
type Result struct {
	Processed int `json:"processed"`
	Resolved  int `json:"resolved"`
	Unknown   int `json:"unknown"`
	Conflicts int `json:"conflicts"`
	Errors    int `json:"errors"`
}

// Reprocessor re-runs matching on pending records. Sweeps never overlap and
// never write absence records.
type Reprocessor struct {
	records   database.AttendanceWriter
	images    ImageReader
	matcher   *facematch.Matcher
	templates *templates.Store
	batch     int

	run sync.Mutex // one sweep at a time

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

func New(records database.AttendanceWriter, images ImageReader, matcher *facematch.Matcher, store *templates.Store, batch int) *Reprocessor {
	if batch <= 0 {
		batch = constants.DefaultReprocessBatch
	}
	return &Reprocessor{
		records:   records,
		images:    images,
		matcher:   matcher,
		templates: store,
		batch:     batch,
	}
}

// Run is the cron entry point.
func (r *Reprocessor) Run() {
	res, err := r.RunOnce(context.Background())
	if err != nil {
		if !errors.Is(err, ErrStopped) {
			log.Printf("Reprocess failed: %v", err)
		}
		return
	}
	if res.Processed > 0 {
		log.Printf("Reprocessed %d pending records: %d resolved, %d unknown, %d conflicts, %d errors",
			res.Processed, res.Resolved, res.Unknown, res.Conflicts, res.Errors)
	}
}

// RunOnce processes up to one batch of pending records, oldest first. A
// record that fails is counted and left pending; the others are unaffected.
// Records overridden while the sweep runs are skipped and counted as
// conflicts.
func (r *Reprocessor) RunOnce(ctx context.Context) (Result, error) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return Result{}, ErrStopped
	}
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	r.run.Lock()
	defer r.run.Unlock()

	var res Result
	pending, err := r.records.ListPending(ctx, r.batch)
	if err != nil {
		return res, fmt.Errorf("list pending records: %w", err)
	}

	snap := r.templates.Snapshot()
	for i := range pending {
		if ctx.Err() != nil || r.isStopped() {
			break
		}
		res.Processed++
		err := r.process(ctx, &pending[i], snap, &res)
		switch {
		case errors.Is(err, database.ErrRecordChanged):
			res.Conflicts++
			log.Printf("Record %d changed during reprocessing, skipped", pending[i].ID)
		case err != nil:
			res.Errors++
			log.Printf("Warning: reprocess record %d: %v", pending[i].ID, err)
		}
	}
	return res, nil
}

// process resolves one record. Writes only apply while the record is still
// pending, so a concurrent override wins and surfaces as ErrRecordChanged.
func (r *Reprocessor) process(ctx context.Context, rec *database.AttendanceRecord, snap *templates.Snapshot, res *Result) error {
	data, err := r.images.Read(rec.CaptureRef)
	if errors.Is(err, database.ErrNotFound) {
		log.Printf("Warning: capture %s of record %d is gone", rec.CaptureRef, rec.ID)
		return r.markUnknown(ctx, rec, res)
	}
	if err != nil {
		return fmt.Errorf("read capture: %w", err)
	}

	candidates, err := r.matcher.MatchAll(ctx, data, snap)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return r.markUnknown(ctx, rec, res)
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Confidence > best.Confidence {
			best = c
		}
	}

	id, conf := best.StudentID, best.Confidence
	err = r.records.ResolvePending(ctx, rec.ID, database.RecordUpdate{
		StudentID:  &id,
		Status:     database.StatusPresent,
		Confidence: &conf,
	})
	if errors.Is(err, database.ErrAlreadyMarked) {
		if err := r.markUnknown(ctx, rec, res); err != nil {
			return err
		}
		res.Conflicts++
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	res.Resolved++
	return nil
}

// markUnknown keeps whatever student the record already carries.
func (r *Reprocessor) markUnknown(ctx context.Context, rec *database.AttendanceRecord, res *Result) error {
	zero := 0.0
	err := r.records.ResolvePending(ctx, rec.ID, database.RecordUpdate{
		StudentID:  rec.StudentID,
		Status:     database.StatusUnknown,
		Confidence: &zero,
	})
	if err != nil {
		return fmt.Errorf("mark unknown: %w", err)
	}
	res.Unknown++
	return nil
}

func (r *Reprocessor) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Stop rejects new sweeps and waits for the running one to finish its
// current record.
func (r *Reprocessor) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.wg.Wait()
}
