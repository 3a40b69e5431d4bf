package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// JSONLStore appends one JSON entry per line and syncs after each write,
// avoiding the full rewrite of FileStore. Every acknowledged entry ends in a
// newline; a final line without one is a write that never returned a hash.
// A terminated line that does not parse makes Load fail.
type JSONLStore struct {
	path string
	file appendFile
}

// appendFile is the subset of *os.File the store writes through.
type appendFile interface {
	io.Writer
	Sync() error
	Truncate(size int64) error
	Stat() (os.FileInfo, error)
	Close() error
}

// NewJSONLStore opens (or creates) the JSONL file at path for appending.
// An unterminated final line left by a crash is completed when it holds a
// whole entry and cut off otherwise.
func NewJSONLStore(path string) (*JSONLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, &InitError{Err: fmt.Errorf("create directory: %w", err)}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, &InitError{Err: fmt.Errorf("open %s: %w", path, err)}
	}
	if err := recoverTail(f); err != nil {
		f.Close()
		return nil, &InitError{Err: fmt.Errorf("recover %s: %w", path, err)}
	}
	return &JSONLStore{path: path, file: f}, nil
}

// recoverTail fixes up an unterminated last line.
func recoverTail(f *os.File) error {
	data, err := io.ReadAll(io.NewSectionReader(f, 0, math.MaxInt64))
	if err != nil {
		return err
	}
	if len(data) == 0 || data[len(data)-1] == '\n' {
		return nil
	}

	cut := bytes.LastIndexByte(data, '\n') + 1
	var e Entry
	if json.Unmarshal(bytes.TrimSpace(data[cut:]), &e) == nil && e.Hash != "" {
		if _, err := f.Write([]byte{'\n'}); err != nil {
			return err
		}
		return f.Sync()
	}
	if err := f.Truncate(int64(cut)); err != nil {
		return err
	}
	return f.Sync()
}

// Path returns the file location.
func (s *JSONLStore) Path() string { return s.path }

// Load reads every newline-terminated entry. An unterminated final line is
// an append still in flight or one that failed, and is skipped.
func (s *JSONLStore) Load() ([]Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	data = data[:bytes.LastIndexByte(data, '\n')+1]

	var entries []Entry
	for lineNum := 1; len(data) > 0; lineNum++ {
		i := bytes.IndexByte(data, '\n')
		line := bytes.TrimSpace(data[:i])
		data = data[i+1:]
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, &InitError{Err: fmt.Errorf("parse %s line %d: %w", s.path, lineNum, err)}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Append writes the entry as one line and syncs it. On failure the file is
// cut back to its previous length so the next append starts on a clean line.
func (s *JSONLStore) Append(e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	offset := info.Size()

	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return s.rollback(offset, fmt.Errorf("write entry: %w", err))
	}
	if err := s.file.Sync(); err != nil {
		return s.rollback(offset, fmt.Errorf("sync: %w", err))
	}
	return nil
}

func (s *JSONLStore) rollback(offset int64, cause error) error {
	if err := s.file.Truncate(offset); err != nil {
		return errors.Join(cause, fmt.Errorf("truncate to %d: %w", offset, err))
	}
	return cause
}

func (s *JSONLStore) Close() error {
	return s.file.Close()
}
