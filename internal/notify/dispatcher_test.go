package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
)

type recordingNotifier struct {
	mu      sync.Mutex
	singles []Notification
	bulks   [][]Notification
	failFor map[string]bool
}

func (r *recordingNotifier) result(n Notification) error {
	if r.failFor[n.Contact] {
		return errors.New("mailbox unavailable")
	}
	return nil
}

func (r *recordingNotifier) Send(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.singles = append(r.singles, n)
	return r.result(n)
}

func (r *recordingNotifier) SendBulk(_ context.Context, ns []Notification) []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bulks = append(r.bulks, ns)
	errs := make([]error, len(ns))
	for i, n := range ns {
		errs[i] = r.result(n)
	}
	return errs
}

func (r *recordingNotifier) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.singles)
	for _, b := range r.bulks {
		n += len(b)
	}
	return n
}

func enqueue(t *testing.T, store *mock.MockStore, entries ...database.OutboxEntry) {
	t.Helper()
	err := store.WithinTx(context.Background(), func(tx database.AttendanceTx) error {
		for i := range entries {
			if err := tx.Enqueue(context.Background(), &entries[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func entry(contact string, status database.Status, batch string) database.OutboxEntry {
	return database.OutboxEntry{
		BatchID:     batch,
		Contact:     contact,
		StudentName: "Student",
		CourseName:  "Computer Science 101",
		Status:      status,
		DateLabel:   "October 19, 2026",
		TimeLabel:   "09:15 AM",
	}
}

func TestDrain_GroupsAbsencesByBatch(t *testing.T) {
	store := mock.NewMockStore()
	n := &recordingNotifier{}
	d := NewDispatcher(store, n)

	enqueue(t, store,
		entry("a@example.com", database.StatusPresent, "b1"),
		entry("b@example.com", database.StatusAbsent, "b1"),
		entry("c@example.com", database.StatusAbsent, "b1"),
		entry("d@example.com", database.StatusAbsent, "b2"),
	)

	res, err := d.Drain(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Claimed != 4 || res.Sent != 4 || res.Failed != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(n.singles) != 1 || n.singles[0].Contact != "a@example.com" {
		t.Errorf("expected one single send, got %+v", n.singles)
	}
	if len(n.bulks) != 2 || len(n.bulks[0]) != 2 || len(n.bulks[1]) != 1 {
		t.Errorf("unexpected bulk groups %+v", n.bulks)
	}

	for _, e := range store.Outbox() {
		if e.State != database.OutboxSent {
			t.Errorf("entry %d in state %s, want sent", e.ID, e.State)
		}
	}
}

func TestDrain_FailureIsRecorded(t *testing.T) {
	store := mock.NewMockStore()
	n := &recordingNotifier{failFor: map[string]bool{"b@example.com": true}}
	d := NewDispatcher(store, n)

	enqueue(t, store,
		entry("a@example.com", database.StatusPresent, "b1"),
		entry("b@example.com", database.StatusPresent, "b1"),
	)

	res, err := d.Drain(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Sent != 1 || res.Failed != 1 {
		t.Errorf("unexpected result %+v", res)
	}

	outbox := store.Outbox()
	if outbox[1].State != database.OutboxFailed || outbox[1].Error == "" {
		t.Errorf("expected failed entry with error, got %+v", outbox[1])
	}
	if d.Stats() != (Stats{Sent: 1, Failed: 1}) {
		t.Errorf("unexpected stats %+v", d.Stats())
	}
}

func TestDrain_AtMostOnce(t *testing.T) {
	store := mock.NewMockStore()
	n := &recordingNotifier{failFor: map[string]bool{"a@example.com": true}}
	d := NewDispatcher(store, n)

	enqueue(t, store, entry("a@example.com", database.StatusPresent, "b1"))

	for range 3 {
		if _, err := d.Drain(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if n.total() != 1 {
		t.Errorf("expected a single delivery attempt, got %d", n.total())
	}
}

func TestDrain_ClaimError(t *testing.T) {
	store := mock.NewMockStore()
	store.ClaimError = mock.ErrInjected
	d := NewDispatcher(store, &recordingNotifier{})

	if _, err := d.Drain(context.Background()); !errors.Is(err, mock.ErrInjected) {
		t.Errorf("expected injected error, got %v", err)
	}
}

func TestRun_DrainsOnKick(t *testing.T) {
	store := mock.NewMockStore()
	n := &recordingNotifier{}
	d := NewDispatcher(store, n)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	enqueue(t, store, entry("a@example.com", database.StatusPresent, "b1"))
	d.Kick()
	d.Kick()

	deadline := time.After(2 * time.Second)
	for n.total() == 0 {
		select {
		case <-deadline:
			t.Fatal("notification was not delivered after kick")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestLogNotifier(t *testing.T) {
	var l LogNotifier
	if err := l.Send(context.Background(), sample(database.StatusPresent)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	errs := l.SendBulk(context.Background(), []Notification{sample(database.StatusAbsent), {}})
	if errs[0] != nil || errs[1] == nil {
		t.Errorf("unexpected bulk errors %v", errs)
	}
}
