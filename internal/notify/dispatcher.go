package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// DrainResult counts the entries handled by one Drain.
type DrainResult struct {
	Claimed int `json:"claimed"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// Stats are lifetime counters of a Dispatcher.
type Stats struct {
	Sent   int64 `json:"sent"`
	Failed int64 `json:"failed"`
}

// Dispatcher drains the outbox. Entries are claimed before delivery, so each
// one is attempted at most once; an entry left in sending after a crash is
// never retried.
type Dispatcher struct {
	outbox   database.OutboxStore
	notifier Notifier
	batch    int

	kick chan struct{}
	mu   sync.Mutex

	sent   atomic.Int64
	failed atomic.Int64
}

func NewDispatcher(outbox database.OutboxStore, notifier Notifier) *Dispatcher {
	return &Dispatcher{
		outbox:   outbox,
		notifier: notifier,
		batch:    constants.OutboxClaimBatch,
		kick:     make(chan struct{}, 1),
	}
}

// Kick asks a running dispatcher to drain soon. It never blocks.
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Run drains on every kick until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.kick:
			if _, err := d.Drain(ctx); err != nil {
				log.Printf("Warning: outbox drain failed: %v", err)
			}
		}
	}
}

// Stats returns the lifetime counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{Sent: d.sent.Load(), Failed: d.failed.Load()}
}

// Drain delivers queued entries until none are left. Absence entries of one
// batch are delivered together.
func (d *Dispatcher) Drain(ctx context.Context) (DrainResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var res DrainResult
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		entries, err := d.outbox.ClaimQueued(ctx, d.batch)
		if err != nil {
			return res, fmt.Errorf("claim outbox entries: %w", err)
		}
		if len(entries) == 0 {
			return res, nil
		}
		res.Claimed += len(entries)

		var singles []database.OutboxEntry
		bulk := make(map[string][]database.OutboxEntry)
		var order []string
		for _, e := range entries {
			if e.Status == database.StatusAbsent && e.BatchID != "" {
				if _, ok := bulk[e.BatchID]; !ok {
					order = append(order, e.BatchID)
				}
				bulk[e.BatchID] = append(bulk[e.BatchID], e)
				continue
			}
			singles = append(singles, e)
		}

		for _, e := range singles {
			d.finish(ctx, e, d.notifier.Send(ctx, FromEntry(e)), &res)
		}
		for _, id := range order {
			group := bulk[id]
			ns := make([]Notification, len(group))
			for i, e := range group {
				ns[i] = FromEntry(e)
			}
			errs := d.notifier.SendBulk(ctx, ns)
			for i, e := range group {
				var err error
				if i < len(errs) {
					err = errs[i]
				}
				d.finish(ctx, e, err, &res)
			}
		}
	}
}

func (d *Dispatcher) finish(ctx context.Context, e database.OutboxEntry, sendErr error, res *DrainResult) {
	if sendErr != nil {
		res.Failed++
		d.failed.Add(1)
		log.Printf("Warning: notification %d to %s failed: %v", e.ID, e.Contact, sendErr)
		if err := d.outbox.MarkFailed(ctx, e.ID, sendErr.Error()); err != nil {
			log.Printf("Warning: failed to mark notification %d failed: %v", e.ID, err)
		}
		return
	}
	res.Sent++
	d.sent.Add(1)
	if err := d.outbox.MarkSent(ctx, e.ID); err != nil {
		log.Printf("Warning: failed to mark notification %d sent: %v", e.ID, err)
	}
}
