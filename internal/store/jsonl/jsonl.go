// Package jsonl keeps a flat, grep-friendly audit trail on disk, one
// record per line, rotated by size. It is export-only; queries go to the
// sqlite store.
package jsonl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cmdgate/cmdgate/pkg/types"
)

// line is the on-disk record. It flattens the event so an operator can
// grep decisions and commands without walking nested JSON.
type line struct {
	TS        string       `json:"ts"`
	Event     string       `json:"event"`
	EventID   string       `json:"eventId,omitempty"`
	CommandID string       `json:"commandId,omitempty"`
	Decision  types.Action `json:"decision,omitempty"`
	Pattern   string       `json:"pattern,omitempty"`
	Shell     string       `json:"shell,omitempty"`
	Command   string       `json:"command,omitempty"`
	PID       int          `json:"pid,omitempty"`

	Detail map[string]any `json:"detail,omitempty"`
}

func toLine(ev types.Event) line {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return line{
		TS:        ts.UTC().Format(time.RFC3339Nano),
		Event:     ev.Type,
		EventID:   ev.ID,
		CommandID: ev.CommandID,
		Decision:  ev.Decision,
		Pattern:   ev.Pattern,
		Shell:     ev.Shell,
		Command:   ev.Command,
		PID:       ev.PID,
		Detail:    ev.Fields,
	}
}

type Store struct {
	path       string
	maxBytes   int64
	maxBackups int

	mu   sync.Mutex
	file *os.File
	size int64
}

func New(path string, maxSizeMB int, maxBackups int) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("jsonl path is empty")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	if maxBackups <= 0 {
		maxBackups = 3
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir log dir: %w", err)
	}

	s := &Store{
		path:       path,
		maxBytes:   int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
	}
	if err := s.openLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) AppendEvent(_ context.Context, ev types.Event) error {
	b, err := json.Marshal(toLine(ev))
	if err != nil {
		return fmt.Errorf("marshal audit line: %w", err)
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("jsonl file not open")
	}
	if s.size+int64(len(b)) > s.maxBytes && s.size > 0 {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}
	n, err := s.file.Write(b)
	s.size += int64(n)
	if err != nil {
		return fmt.Errorf("write jsonl: %w", err)
	}
	return nil
}

func (s *Store) QueryEvents(_ context.Context, _ types.EventQuery) ([]types.Event, error) {
	return nil, fmt.Errorf("jsonl store does not support queries")
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *Store) openLocked() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open jsonl: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat jsonl: %w", err)
	}
	s.file = f
	s.size = st.Size()
	return nil
}

// rotateLocked shifts path.N backups up by one and reopens a fresh log.
// The oldest backup past maxBackups falls off the end.
func (s *Store) rotateLocked() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close for rotate: %w", err)
	}
	s.file = nil

	for i := s.maxBackups - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", s.path, i)
		if _, err := os.Stat(from); err == nil {
			_ = os.Rename(from, fmt.Sprintf("%s.%d", s.path, i+1))
		}
	}
	_ = os.Rename(s.path, s.path+".1")

	return s.openLocked()
}
