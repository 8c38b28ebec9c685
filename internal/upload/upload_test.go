package upload

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sweeney/camnode/internal/fault"
	"github.com/sweeney/camnode/internal/logging"
	"github.com/sweeney/camnode/internal/state"
)

var testStart = time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		Enabled:   true,
		NodeID:    "cam-07",
		Interval:  5 * time.Minute,
		Timeout:   15 * time.Second,
		BatchSize: 10,
	}
}

func records(n int) []Record {
	recs := make([]Record, n)
	for i := range recs {
		recs[i] = Record{
			ID:         fmt.Sprintf("r%02d", i),
			Kind:       "image",
			CapturedAt: testStart.Add(-time.Duration(n-i) * time.Minute),
		}
	}
	return recs
}

func newTestQueue(cfg Config, store *FakeStore, sender *FakeSender) (*Queue, *state.Shared) {
	shared := state.New(state.Profile{})
	q := NewQueue(cfg, store, sender, shared, logging.Discard())
	q.newID = func() string { return "00000000-0000-4000-8000-000000000001" }
	return q, shared
}

func TestEncodeRoundTrip(t *testing.T) {
	env := Envelope{
		ID:         "r01",
		Kind:       "image",
		CapturedAt: testStart,
		Node:       "cam-07",
		MsgID:      "abc",
		Data:       []byte{0xff, 0xd8, 0xff},
	}
	data, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ID != env.ID || got.Node != env.Node || !got.CapturedAt.Equal(env.CapturedAt) || string(got.Data) != string(env.Data) {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}

func TestTickUploadsBatch(t *testing.T) {
	store := NewFakeStore(records(3)...)
	sender := &FakeSender{}
	q, shared := newTestQueue(testConfig(), store, sender)

	if err := q.Tick(context.Background(), testStart, true); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(sender.Sent) != 3 {
		t.Fatalf("sent: got %d, want 3", len(sender.Sent))
	}
	if len(store.Marked) != 3 || store.Marked[0] != "r00" || store.Marked[2] != "r02" {
		t.Errorf("marked: got %v", store.Marked)
	}
	if !shared.LastUpload().Equal(testStart) {
		t.Errorf("LastUpload: got %v, want %v", shared.LastUpload(), testStart)
	}
	for i, ok := range sender.Deadlines {
		if !ok {
			t.Errorf("send %d had no deadline", i)
		}
	}

	env, err := Decode(sender.Sent[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.ID != "r00" || env.Node != "cam-07" || env.Kind != "image" || string(env.Data) != "payload-r00" {
		t.Errorf("envelope: got %+v", env)
	}
	if env.MsgID == "" {
		t.Error("envelope should carry a message id")
	}

	st := q.Status()
	if st.Pending != 0 || st.Uploaded != 3 || st.LastError != "" {
		t.Errorf("Status: got %+v", st)
	}
}

func TestTickRespectsBatchSize(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 2
	store := NewFakeStore(records(5)...)
	sender := &FakeSender{}
	q, _ := newTestQueue(cfg, store, sender)

	q.Tick(context.Background(), testStart, true)
	if len(sender.Sent) != 2 {
		t.Errorf("sent: got %d, want 2", len(sender.Sent))
	}
	if q.Status().Pending != 3 {
		t.Errorf("pending: got %d, want 3", q.Status().Pending)
	}
}

func TestTickGating(t *testing.T) {
	tests := []struct {
		name      string
		enabled   bool
		connected bool
		lastAgo   time.Duration
		wantCalls int
	}{
		{"disabled", false, true, 0, 0},
		{"disconnected", true, false, 0, 0},
		{"never uploaded", true, true, 0, 1},
		{"interval not elapsed", true, true, 4 * time.Minute, 0},
		{"interval elapsed", true, true, 5 * time.Minute, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Enabled = tt.enabled
			store := NewFakeStore(records(1)...)
			sender := &FakeSender{}
			q, shared := newTestQueue(cfg, store, sender)
			if tt.lastAgo > 0 {
				shared.SetLastUpload(testStart.Add(-tt.lastAgo))
			}

			q.Tick(context.Background(), testStart, tt.connected)
			if sender.Calls != tt.wantCalls {
				t.Errorf("send calls: got %d, want %d", sender.Calls, tt.wantCalls)
			}
		})
	}
}

func TestNothingPendingAdvancesLastUpload(t *testing.T) {
	store := NewFakeStore()
	q, shared := newTestQueue(testConfig(), store, &FakeSender{})

	if err := q.Tick(context.Background(), testStart, true); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !shared.LastUpload().Equal(testStart) {
		t.Errorf("LastUpload: got %v, want %v", shared.LastUpload(), testStart)
	}
}

func TestStorageUnreachableDoesNotAdvance(t *testing.T) {
	store := NewFakeStore(records(2)...)
	store.FetchError = errors.New("redis: connection refused")
	sender := &FakeSender{}
	q, shared := newTestQueue(testConfig(), store, sender)

	err := q.Tick(context.Background(), testStart, true)
	if !errors.Is(err, fault.ErrStorageUnavailable) {
		t.Fatalf("got %v, want ErrStorageUnavailable", err)
	}
	if !shared.LastUpload().IsZero() {
		t.Errorf("LastUpload advanced on storage failure: %v", shared.LastUpload())
	}
	if q.Status().LastError == "" {
		t.Error("LastError should be recorded")
	}

	// Storage comes back: the very next tick retries.
	store.FetchError = nil
	if err := q.Tick(context.Background(), testStart.Add(30*time.Second), true); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(sender.Sent) != 2 {
		t.Errorf("sent after recovery: got %d, want 2", len(sender.Sent))
	}
	if q.Status().LastError != "" {
		t.Errorf("LastError should clear, got %q", q.Status().LastError)
	}
}

func TestFailedSendStaysPendingAndIsRetried(t *testing.T) {
	store := NewFakeStore(records(3)...)
	sender := &FakeSender{Results: []error{nil, errors.New("puback timeout")}}
	q, shared := newTestQueue(testConfig(), store, sender)

	err := q.Tick(context.Background(), testStart, true)
	if !errors.Is(err, fault.ErrTransientUpload) {
		t.Fatalf("got %v, want ErrTransientUpload", err)
	}
	if sender.Calls != 2 {
		t.Errorf("batch should stop at first failure: %d calls", sender.Calls)
	}
	if len(store.Marked) != 1 || store.Marked[0] != "r00" {
		t.Errorf("marked: got %v, want [r00]", store.Marked)
	}
	if len(store.Records) != 2 || store.Records[0].ID != "r01" {
		t.Errorf("r01 should remain pending first, got %v", store.Records)
	}
	// One record went out, so the window counts as used.
	if !shared.LastUpload().Equal(testStart) {
		t.Errorf("LastUpload: got %v, want %v", shared.LastUpload(), testStart)
	}

	next := testStart.Add(5 * time.Minute)
	if err := q.Tick(context.Background(), next, true); err != nil {
		t.Fatalf("retry Tick: %v", err)
	}
	if len(store.Records) != 0 {
		t.Errorf("pending after retry: %v", store.Records)
	}
	if got := store.Marked; len(got) != 3 || got[1] != "r01" {
		t.Errorf("marked: got %v", got)
	}
}

func TestAllSendsFailedDoesNotAdvance(t *testing.T) {
	store := NewFakeStore(records(2)...)
	sender := &FakeSender{Results: []error{context.DeadlineExceeded}}
	q, shared := newTestQueue(testConfig(), store, sender)

	err := q.Tick(context.Background(), testStart, true)
	if !errors.Is(err, fault.ErrTransientUpload) {
		t.Fatalf("got %v, want ErrTransientUpload", err)
	}
	if !shared.LastUpload().IsZero() {
		t.Errorf("LastUpload advanced with nothing sent: %v", shared.LastUpload())
	}
	if len(store.Marked) != 0 {
		t.Errorf("nothing should be marked, got %v", store.Marked)
	}
	if q.Status().Pending != 2 {
		t.Errorf("pending: got %d, want 2", q.Status().Pending)
	}
}

func TestMissingPayloadIsSkipped(t *testing.T) {
	store := NewFakeStore(records(3)...)
	delete(store.Payloads, "r00")
	sender := &FakeSender{}
	q, shared := newTestQueue(testConfig(), store, sender)

	err := q.Tick(context.Background(), testStart, true)
	if !errors.Is(err, fault.ErrStorageUnavailable) {
		t.Fatalf("got %v, want ErrStorageUnavailable", err)
	}
	if len(sender.Sent) != 2 {
		t.Fatalf("records behind the unreadable one should be sent, got %d", len(sender.Sent))
	}
	if got := store.Marked; len(got) != 2 || got[0] != "r01" || got[1] != "r02" {
		t.Errorf("marked: got %v, want [r01 r02]", got)
	}
	if len(store.Records) != 1 || store.Records[0].ID != "r00" {
		t.Errorf("r00 should stay pending, got %v", store.Records)
	}
	if !shared.LastUpload().Equal(testStart) {
		t.Errorf("LastUpload: got %v, want %v", shared.LastUpload(), testStart)
	}
	if q.Status().LastError == "" {
		t.Error("LastError should report the unreadable record")
	}
}

func TestUnreadableRecordsDoNotBlockQueue(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 2
	store := NewFakeStore(records(5)...)
	delete(store.Payloads, "r00")
	delete(store.Payloads, "r01")
	sender := &FakeSender{}
	q, shared := newTestQueue(cfg, store, sender)

	// The whole first window is unreadable: nothing is sent, but the window
	// still counts so the queue does not spin on every tick.
	q.Tick(context.Background(), testStart, true)
	if sender.Calls != 0 {
		t.Fatalf("send calls: got %d, want 0", sender.Calls)
	}
	if !shared.LastUpload().Equal(testStart) {
		t.Errorf("LastUpload: got %v, want %v", shared.LastUpload(), testStart)
	}

	now := testStart
	for i := 0; i < 3; i++ {
		now = now.Add(cfg.Interval)
		q.Tick(context.Background(), now, true)
	}
	if got := store.Marked; len(got) != 3 || got[0] != "r02" || got[2] != "r04" {
		t.Errorf("marked: got %v, want [r02 r03 r04]", got)
	}
	if q.Status().Pending != 2 {
		t.Errorf("pending: got %d, want the 2 unreadable records", q.Status().Pending)
	}
}

func TestUnreadableRecordRecovers(t *testing.T) {
	store := NewFakeStore(records(2)...)
	payload := store.Payloads["r00"]
	delete(store.Payloads, "r00")
	sender := &FakeSender{}
	q, _ := newTestQueue(testConfig(), store, sender)

	q.Tick(context.Background(), testStart, true)
	store.Payloads["r00"] = payload

	if err := q.Tick(context.Background(), testStart.Add(5*time.Minute), true); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := store.Marked; len(got) != 2 || got[1] != "r00" {
		t.Errorf("marked: got %v, want [r01 r00]", got)
	}
	if len(q.unreadable) != 0 {
		t.Errorf("unreadable set should be empty, got %v", q.unreadable)
	}
}

func TestMarkFailureCountsAsSent(t *testing.T) {
	store := NewFakeStore(records(1)...)
	store.MarkError = errors.New("readonly")
	q, shared := newTestQueue(testConfig(), store, &FakeSender{})

	if err := q.Tick(context.Background(), testStart, true); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !shared.LastUpload().Equal(testStart) {
		t.Error("LastUpload should advance once the record was sent")
	}
	if q.Status().Pending != 1 {
		t.Errorf("record should still be pending in the store, got %d", q.Status().Pending)
	}
}

func TestRefresh(t *testing.T) {
	store := NewFakeStore(records(4)...)
	q, _ := newTestQueue(testConfig(), store, &FakeSender{})

	q.Refresh(context.Background())
	if q.Status().Pending != 4 {
		t.Errorf("pending: got %d, want 4", q.Status().Pending)
	}

	cfg := testConfig()
	cfg.Enabled = false
	off, _ := newTestQueue(cfg, store, &FakeSender{})
	off.Refresh(context.Background())
	if off.Status().Pending != 0 {
		t.Errorf("disabled queue should not query the store")
	}
}
