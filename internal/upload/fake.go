package upload

import (
	"context"
	"fmt"
)

// FakeStore is an in-memory Store for tests.
type FakeStore struct {
	// Records are the pending records, oldest first.
	Records []Record

	// Payloads maps record IDs to bodies.
	Payloads map[string][]byte

	// FetchError, if set, will be returned by FetchPending and PendingCount.
	FetchError error

	// MarkError, if set, will be returned by MarkUploaded.
	MarkError error

	// Marked lists IDs passed to MarkUploaded, in order.
	Marked []string
}

// NewFakeStore creates a FakeStore holding recs, each with a small payload.
func NewFakeStore(recs ...Record) *FakeStore {
	s := &FakeStore{Payloads: make(map[string][]byte)}
	for _, r := range recs {
		s.Records = append(s.Records, r)
		s.Payloads[r.ID] = []byte("payload-" + r.ID)
	}
	return s
}

// FetchPending returns the first limit records.
func (s *FakeStore) FetchPending(ctx context.Context, limit int) ([]Record, error) {
	if s.FetchError != nil {
		return nil, s.FetchError
	}
	if limit > len(s.Records) {
		limit = len(s.Records)
	}
	out := make([]Record, limit)
	copy(out, s.Records[:limit])
	return out, nil
}

// Payload returns the stored body.
func (s *FakeStore) Payload(ctx context.Context, rec Record) ([]byte, error) {
	p, ok := s.Payloads[rec.ID]
	if !ok {
		return nil, fmt.Errorf("no payload for %s", rec.ID)
	}
	return p, nil
}

// MarkUploaded removes the record from Records.
func (s *FakeStore) MarkUploaded(ctx context.Context, id string) error {
	if s.MarkError != nil {
		return s.MarkError
	}
	s.Marked = append(s.Marked, id)
	for i, r := range s.Records {
		if r.ID == id {
			s.Records = append(s.Records[:i], s.Records[i+1:]...)
			break
		}
	}
	return nil
}

// PendingCount returns len(Records).
func (s *FakeStore) PendingCount(ctx context.Context) (int, error) {
	if s.FetchError != nil {
		return 0, s.FetchError
	}
	return len(s.Records), nil
}

// FakeSender records payloads.
type FakeSender struct {
	// Results is consumed one per Send call. Once exhausted, Send succeeds.
	Results []error

	// Sent contains every successfully sent payload.
	Sent [][]byte

	// Calls counts Send invocations.
	Calls int

	// Deadlines records whether each call carried a deadline.
	Deadlines []bool
}

// Send returns the next scripted result.
func (f *FakeSender) Send(ctx context.Context, payload []byte) error {
	_, ok := ctx.Deadline()
	f.Deadlines = append(f.Deadlines, ok)
	f.Calls++

	if len(f.Results) > 0 {
		err := f.Results[0]
		f.Results = f.Results[1:]
		if err != nil {
			return err
		}
	}
	f.Sent = append(f.Sent, payload)
	return nil
}
