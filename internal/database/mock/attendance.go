package mock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// Records returns a copy of every attendance record in insertion order
func (m *MockStore) Records() []database.AttendanceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.records)
}

// Outbox returns a copy of every outbox entry in insertion order
func (m *MockStore) Outbox() []database.OutboxEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.outbox)
}

// AddRecord stores a record directly, bypassing uniqueness checks
func (m *MockStore) AddRecord(rec database.AttendanceRecord) database.AttendanceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendRecord(&rec)
	return rec
}

func (m *MockStore) appendRecord(rec *database.AttendanceRecord) {
	rec.ID = m.id()
	rec.Date = database.Day(rec.Date)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	m.records = append(m.records, *rec)
}

func (m *MockStore) countInsert() error {
	n := m.inserts
	m.inserts++
	if m.InsertError != nil && n >= m.InsertErrorAfter {
		return m.InsertError
	}
	return nil
}

func (m *MockStore) hasRecord(studentID, courseID int64, date time.Time, except int64) bool {
	for _, r := range m.records {
		if r.ID != except && r.StudentID != nil && *r.StudentID == studentID &&
			r.CourseID == courseID && r.Date.Equal(database.Day(date)) {
			return true
		}
	}
	return false
}

func (m *MockStore) decorate(r database.AttendanceRecord) database.AttendanceRecord {
	if r.StudentID != nil {
		if s, ok := m.students[*r.StudentID]; ok {
			r.StudentName = s.Name
			r.StudentExternal = s.ExternalID
		}
	}
	if c, ok := m.courses[r.CourseID]; ok {
		r.CourseIdentifier = c.Identifier
	}
	return r
}

func matches(r database.AttendanceRecord, f database.RecordFilter) bool {
	if !f.From.IsZero() && r.Date.Before(database.Day(f.From)) {
		return false
	}
	if !f.To.IsZero() && r.Date.After(database.Day(f.To)) {
		return false
	}
	if f.CourseID != 0 && r.CourseID != f.CourseID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

func (m *MockStore) GetRecord(_ context.Context, id int64) (*database.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.ID == id {
			out := m.decorate(r)
			return &out, nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *MockStore) ListRecords(_ context.Context, filter database.RecordFilter) ([]database.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.AttendanceRecord
	for _, r := range m.records {
		if matches(r, filter) {
			out = append(out, m.decorate(r))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.After(out[j].Time)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Offset > 0 {
		out = out[min(filter.Offset, len(out)):]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MockStore) ListPending(_ context.Context, limit int) ([]database.AttendanceRecord, error) {
	if m.ListPendingError != nil {
		return nil, m.ListPendingError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.AttendanceRecord
	for _, r := range m.records {
		if r.Status == database.StatusPending && r.CaptureRef != "" {
			out = append(out, r)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockStore) CountByStatus(_ context.Context, filter database.RecordFilter) (map[database.Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	filter.Status = ""
	counts := make(map[database.Status]int)
	for _, r := range m.records {
		if matches(r, filter) {
			counts[r.Status]++
		}
	}
	return counts, nil
}

type mockTx struct {
	m *MockStore
}

func (t mockTx) InsertIfAbsent(_ context.Context, rec *database.AttendanceRecord) (bool, error) {
	if rec.StudentID == nil {
		return false, errors.New("insert if absent requires a student")
	}
	if err := t.m.countInsert(); err != nil {
		return false, err
	}
	if t.m.hasRecord(*rec.StudentID, rec.CourseID, rec.Date, 0) {
		return false, nil
	}
	t.m.appendRecord(rec)
	return true, nil
}

func (t mockTx) Insert(_ context.Context, rec *database.AttendanceRecord) error {
	if err := t.m.countInsert(); err != nil {
		return err
	}
	t.m.appendRecord(rec)
	return nil
}

func (t mockTx) Enqueue(_ context.Context, entry *database.OutboxEntry) error {
	entry.ID = t.m.id()
	entry.State = database.OutboxQueued
	entry.CreatedAt = time.Now()
	t.m.outbox = append(t.m.outbox, *entry)
	return nil
}

// WithinTx holds the store lock for the whole of fn and restores the
// previous state when fn or the commit fails
func (m *MockStore) WithinTx(_ context.Context, fn func(tx database.AttendanceTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := slices.Clone(m.records)
	outbox := slices.Clone(m.outbox)
	nextID := m.nextID

	err := fn(mockTx{m: m})
	if err == nil && m.CommitError != nil {
		err = m.CommitError
	}
	if err != nil {
		m.records, m.outbox, m.nextID = records, outbox, nextID
		return err
	}
	return nil
}

func (m *MockStore) InsertPending(_ context.Context, courseID int64, at time.Time, captureRef string) (*database.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.countInsert(); err != nil {
		return nil, err
	}
	rec := database.AttendanceRecord{
		CourseID:   courseID,
		Date:       at,
		Time:       at,
		Status:     database.StatusPending,
		CaptureRef: captureRef,
	}
	m.appendRecord(&rec)
	return &rec, nil
}

func (m *MockStore) UpdateRecord(_ context.Context, id int64, upd database.RecordUpdate) error {
	return m.update(id, upd, false)
}

func (m *MockStore) ResolvePending(_ context.Context, id int64, upd database.RecordUpdate) error {
	return m.update(id, upd, true)
}

func (m *MockStore) update(id int64, upd database.RecordUpdate, pendingOnly bool) error {
	if m.UpdateError != nil {
		return m.UpdateError
	}
	if !upd.Status.Valid() {
		return fmt.Errorf("%w: %q", database.ErrInvalidStatus, upd.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		r := &m.records[i]
		if r.ID != id {
			continue
		}
		if pendingOnly && r.Status != database.StatusPending {
			return database.ErrRecordChanged
		}
		if upd.StudentID != nil && m.hasRecord(*upd.StudentID, r.CourseID, r.Date, r.ID) {
			return database.ErrAlreadyMarked
		}
		r.StudentID = upd.StudentID
		r.Status = upd.Status
		r.Confidence = upd.Confidence
		return nil
	}
	if pendingOnly {
		return database.ErrRecordChanged
	}
	return database.ErrNotFound
}

// Outbox

func (m *MockStore) ClaimQueued(_ context.Context, limit int) ([]database.OutboxEntry, error) {
	if m.ClaimError != nil {
		return nil, m.ClaimError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []database.OutboxEntry
	for i := range m.outbox {
		if limit > 0 && len(out) == limit {
			break
		}
		e := &m.outbox[i]
		if e.State != database.OutboxQueued {
			continue
		}
		e.State = database.OutboxSending
		e.AttemptedAt = &now
		out = append(out, *e)
	}
	return out, nil
}

func (m *MockStore) setOutboxState(id int64, state database.OutboxState, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.outbox {
		if m.outbox[i].ID == id {
			m.outbox[i].State = state
			m.outbox[i].Error = reason
			return nil
		}
	}
	return database.ErrNotFound
}

func (m *MockStore) MarkSent(_ context.Context, id int64) error {
	return m.setOutboxState(id, database.OutboxSent, "")
}

func (m *MockStore) MarkFailed(_ context.Context, id int64, reason string) error {
	return m.setOutboxState(id, database.OutboxFailed, reason)
}

func (m *MockStore) OutboxStats(_ context.Context) (map[database.OutboxState]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[database.OutboxState]int)
	for _, e := range m.outbox {
		stats[e.State]++
	}
	return stats, nil
}

var (
	_ database.StudentWriter    = (*MockStore)(nil)
	_ database.CourseWriter     = (*MockStore)(nil)
	_ database.EnrollmentWriter = (*MockStore)(nil)
	_ database.AttendanceWriter = (*MockStore)(nil)
	_ database.OutboxStore      = (*MockStore)(nil)
)
