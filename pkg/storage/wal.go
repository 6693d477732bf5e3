package storage

import (
	"fmt"
	"os"
	"sync"
)

// Journal is an append-only audit trail of committed operations, one line
// per entry. It is written after the pebble commit and is never replayed.
type Journal interface {
	Append(line string) error
	Close() error
}

type NopJournal struct{}

func NewNopJournal() *NopJournal            { return &NopJournal{} }
func (j *NopJournal) Append(_ string) error { return nil }
func (j *NopJournal) Close() error          { return nil }

type FileJournal struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileJournal(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	return &FileJournal{f: f}, nil
}

func (j *FileJournal) Append(line string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := fmt.Fprintln(j.f, line)
	return err
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

var _ Journal = (*NopJournal)(nil)
var _ Journal = (*FileJournal)(nil)
