// Package store is the local record storage consulted by the upload queue.
// Record metadata lives in an index; bodies are files written by the capture
// service.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sweeney/camnode/internal/upload"
)

// Entry is an indexed record and the file holding its body.
type Entry struct {
	Record upload.Record
	Path   string
}

// Index tracks pending records.
type Index interface {
	// Pending returns up to limit entries, oldest capture first.
	Pending(ctx context.Context, limit int) ([]Entry, error)

	// Remove moves a record out of the pending set.
	Remove(ctx context.Context, id string) error

	// Count returns the number of pending records.
	Count(ctx context.Context) (int, error)
}

// Store implements upload.Store over an Index and the filesystem.
type Store struct {
	index Index
	root  string
	paths map[string]string
}

// New creates a Store. Relative record paths are resolved against root.
func New(index Index, root string) *Store {
	return &Store{index: index, root: root, paths: make(map[string]string)}
}

// FetchPending implements upload.Store.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]upload.Record, error) {
	entries, err := s.index.Pending(ctx, limit)
	if err != nil {
		return nil, err
	}
	recs := make([]upload.Record, 0, len(entries))
	for _, e := range entries {
		s.paths[e.Record.ID] = e.Path
		recs = append(recs, e.Record)
	}
	return recs, nil
}

// Payload implements upload.Store.
func (s *Store) Payload(ctx context.Context, rec upload.Record) ([]byte, error) {
	path, ok := s.paths[rec.ID]
	if !ok {
		return nil, fmt.Errorf("record %s not fetched", rec.ID)
	}
	if path == "" {
		return nil, fmt.Errorf("record %s has no metadata", rec.ID)
	}
	if !filepath.IsAbs(path) && s.root != "" {
		path = filepath.Join(s.root, path)
	}
	return os.ReadFile(path)
}

// MarkUploaded implements upload.Store.
func (s *Store) MarkUploaded(ctx context.Context, id string) error {
	if err := s.index.Remove(ctx, id); err != nil {
		return err
	}
	delete(s.paths, id)
	return nil
}

// PendingCount implements upload.Store.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	return s.index.Count(ctx)
}
