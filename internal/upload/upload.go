// Package upload drains locally stored records to the broker while the link
// is up.
package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/sweeney/camnode/internal/fault"
	"github.com/sweeney/camnode/internal/logging"
	"github.com/sweeney/camnode/internal/state"
)

// Record is a handle to a stored record. The store owns the payload.
type Record struct {
	ID         string
	Kind       string
	CapturedAt time.Time
	Size       int64
}

// Store is the local record storage.
type Store interface {
	// FetchPending returns up to limit pending records, oldest first.
	FetchPending(ctx context.Context, limit int) ([]Record, error)

	// Payload reads the record body.
	Payload(ctx context.Context, rec Record) ([]byte, error)

	// MarkUploaded removes the record from the pending set.
	MarkUploaded(ctx context.Context, id string) error

	// PendingCount returns the number of pending records.
	PendingCount(ctx context.Context) (int, error)
}

// Sender transmits one encoded record.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// Envelope is the wire form of an uploaded record.
type Envelope struct {
	ID         string    `cbor:"id"`
	Kind       string    `cbor:"kind"`
	CapturedAt time.Time `cbor:"captured_at"`
	Node       string    `cbor:"node"`
	MsgID      string    `cbor:"msg_id"`
	Data       []byte    `cbor:"data"`
}

var encMode = func() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Encode serializes an envelope.
func Encode(env Envelope) ([]byte, error) {
	return encMode.Marshal(env)
}

// Decode parses an envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	err := cbor.Unmarshal(data, &env)
	return env, err
}

// Config configures a Queue.
type Config struct {
	Enabled   bool
	NodeID    string
	Interval  time.Duration
	Timeout   time.Duration
	BatchSize int
}

// Status is a point-in-time view of the queue.
type Status struct {
	LastUpload time.Time
	Pending    int
	Uploaded   uint64
	LastError  string
}

// Queue uploads pending records in batches. It owns state.Shared's
// lastUpload field.
type Queue struct {
	cfg    Config
	store  Store
	sender Sender
	shared *state.Shared
	log    *logging.Logger
	newID  func() string

	// unreadable holds IDs whose payload could not be read; fetches are
	// widened by its size so they cannot crowd out healthy records.
	unreadable map[string]struct{}

	mu       sync.Mutex
	pending  int
	uploaded uint64
	lastErr  string
}

// NewQueue creates a Queue.
func NewQueue(cfg Config, store Store, sender Sender, shared *state.Shared, log *logging.Logger) *Queue {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Queue{
		cfg:    cfg,
		store:  store,
		sender: sender,
		shared: shared,
		log:    log.With("upload"),
		newID:  uuid.NewString,

		unreadable: make(map[string]struct{}),
	}
}

// Tick uploads one batch if the queue is enabled, the link is up and the
// upload interval has elapsed.
//
// lastUpload advances when nothing was pending, at least one record was
// sent, or no send failed. It is left alone when the pending set could not
// be fetched or every attempted send failed, so the next tick retries
// without waiting a full interval. A record whose payload cannot be read is
// skipped and left pending; it does not hold back the records behind it.
func (q *Queue) Tick(ctx context.Context, now time.Time, connected bool) error {
	if !q.cfg.Enabled || !connected {
		return nil
	}
	if !state.Due(q.shared.LastUpload(), now, q.cfg.Interval) {
		return nil
	}

	recs, err := q.fetch(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %v", fault.ErrStorageUnavailable, err)
		q.fail(err)
		return err
	}
	if len(recs) == 0 {
		q.shared.SetLastUpload(now)
		q.setPending(0)
		q.log.Debugf("nothing pending")
		return nil
	}

	sent, skipped, err := q.sendBatch(ctx, recs)
	if sent > 0 || err == nil {
		q.shared.SetLastUpload(now)
	}
	q.refresh(ctx)
	if sent > 0 {
		q.log.Infof("uploaded %d record(s)", sent)
	}
	if err == nil && skipped > 0 {
		err = fmt.Errorf("%w: %d record(s) unreadable, left pending", fault.ErrStorageUnavailable, skipped)
	}
	if err != nil {
		q.fail(err)
		return err
	}
	q.mu.Lock()
	q.lastErr = ""
	q.mu.Unlock()
	return nil
}

// Refresh re-reads the pending count from the store.
func (q *Queue) Refresh(ctx context.Context) {
	if q.cfg.Enabled {
		q.refresh(ctx)
	}
}

// Status returns a snapshot for reporting.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{
		LastUpload: q.shared.LastUpload(),
		Pending:    q.pending,
		Uploaded:   q.uploaded,
		LastError:  q.lastErr,
	}
}

func (q *Queue) fetch(ctx context.Context) ([]Record, error) {
	ctx, cancel := q.bounded(ctx)
	defer cancel()

	limit := q.cfg.BatchSize + len(q.unreadable)
	recs, err := q.store.FetchPending(ctx, limit)
	if err != nil {
		return nil, err
	}
	if len(recs) < limit {
		// The whole pending set was returned: forget records that left it.
		seen := make(map[string]bool, len(recs))
		for _, r := range recs {
			seen[r.ID] = true
		}
		for id := range q.unreadable {
			if !seen[id] {
				delete(q.unreadable, id)
			}
		}
	}
	return recs, nil
}

// sendBatch sends up to BatchSize records in order. An unreadable record is
// skipped and stays pending. A failed send stops the batch; the failed
// record and everything after it stay pending.
func (q *Queue) sendBatch(ctx context.Context, recs []Record) (sent, skipped int, err error) {
	for _, rec := range recs {
		if sent == q.cfg.BatchSize {
			break
		}
		data, err := q.read(ctx, rec)
		if err != nil {
			if _, known := q.unreadable[rec.ID]; !known {
				q.log.Warnf("record %s skipped: %v", rec.ID, err)
			}
			q.unreadable[rec.ID] = struct{}{}
			skipped++
			continue
		}
		delete(q.unreadable, rec.ID)

		if err := q.sendOne(ctx, rec, data); err != nil {
			q.log.Warnf("record %s not sent: %v", rec.ID, err)
			return sent, skipped, err
		}
		sent++
		q.mu.Lock()
		q.uploaded++
		q.mu.Unlock()

		mctx, cancel := q.bounded(ctx)
		err = q.store.MarkUploaded(mctx, rec.ID)
		cancel()
		if err != nil {
			// The record will be sent again; the receiver dedupes on id.
			q.log.Warnf("record %s sent but not marked: %v", rec.ID, err)
		}
	}
	return sent, skipped, nil
}

func (q *Queue) read(ctx context.Context, rec Record) ([]byte, error) {
	ctx, cancel := q.bounded(ctx)
	defer cancel()
	data, err := q.store.Payload(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", fault.ErrStorageUnavailable, rec.ID, err)
	}
	return data, nil
}

func (q *Queue) sendOne(ctx context.Context, rec Record, data []byte) error {
	ctx, cancel := q.bounded(ctx)
	defer cancel()

	payload, err := Encode(Envelope{
		ID:         rec.ID,
		Kind:       rec.Kind,
		CapturedAt: rec.CapturedAt,
		Node:       q.cfg.NodeID,
		MsgID:      q.newID(),
		Data:       data,
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", rec.ID, err)
	}
	if err := q.sender.Send(ctx, payload); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: send %s timed out", fault.ErrTransientUpload, rec.ID)
		}
		return fmt.Errorf("%w: send %s: %v", fault.ErrTransientUpload, rec.ID, err)
	}
	return nil
}

func (q *Queue) refresh(ctx context.Context) {
	ctx, cancel := q.bounded(ctx)
	defer cancel()
	n, err := q.store.PendingCount(ctx)
	if err != nil {
		q.log.Debugf("pending count: %v", err)
		return
	}
	q.setPending(n)
}

func (q *Queue) setPending(n int) {
	q.mu.Lock()
	q.pending = n
	q.mu.Unlock()
}

func (q *Queue) fail(err error) {
	q.mu.Lock()
	q.lastErr = err.Error()
	q.mu.Unlock()
	q.log.Warnf("%v", err)
}

func (q *Queue) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if q.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, q.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}
