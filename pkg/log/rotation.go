// Size-based log file rotation
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// RotationOptions bounds a RotatingFile. Zero values select 10 MiB and
// five backups.
type RotationOptions struct {
	MaxBytes int64
	Backups  int
}

// RotatingFile appends to path and, once a write would push it past
// MaxBytes, renames it to path.1 (shifting path.1 to path.2 and so on,
// dropping the oldest) before opening a fresh file.
type RotatingFile struct {
	path string
	opts RotationOptions

	mu   sync.Mutex
	f    *os.File
	size int64
}

// OpenRotatingFile opens or creates path, creating its directory.
func OpenRotatingFile(path string, opts RotationOptions) (*RotatingFile, error) {
	if path == "" {
		return nil, errors.New("log: empty log file path")
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 10 << 20
	}
	if opts.Backups <= 0 {
		opts.Backups = 5
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("log: %w", err)
	}
	rf := &RotatingFile{path: path, opts: opts}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *RotatingFile) open() error {
	f, err := os.OpenFile(rf.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("log: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("log: %w", err)
	}
	rf.f, rf.size = f, st.Size()
	return nil
}

// Write appends p, rotating first if needed. A single write larger than
// MaxBytes still lands whole in a fresh file.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.f == nil {
		return 0, fs.ErrClosed
	}
	if rf.size > 0 && rf.size+int64(len(p)) > rf.opts.MaxBytes {
		if err := rf.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := rf.f.Write(p)
	rf.size += int64(n)
	return n, err
}

func (rf *RotatingFile) backup(i int) string {
	return rf.path + "." + strconv.Itoa(i)
}

func (rf *RotatingFile) rotate() error {
	if err := rf.f.Close(); err != nil {
		return fmt.Errorf("log: rotate: %w", err)
	}
	rf.f = nil

	_ = os.Remove(rf.backup(rf.opts.Backups))
	for i := rf.opts.Backups - 1; i >= 1; i-- {
		if err := os.Rename(rf.backup(i), rf.backup(i+1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("log: rotate: %w", err)
		}
	}
	if err := os.Rename(rf.path, rf.backup(1)); err != nil {
		return fmt.Errorf("log: rotate: %w", err)
	}
	return rf.open()
}

// Size is the current file length.
func (rf *RotatingFile) Size() int64 {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.size
}

// Path returns the active file path.
func (rf *RotatingFile) Path() string { return rf.path }

// Sync flushes the active file.
func (rf *RotatingFile) Sync() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.f == nil {
		return fs.ErrClosed
	}
	return rf.f.Sync()
}

// Close closes the active file. Further writes fail.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.f == nil {
		return nil
	}
	err := rf.f.Close()
	rf.f = nil
	return err
}
