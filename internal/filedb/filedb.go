// Package filedb is a minimal line-oriented record file: one record per
// line, comments start with '#'. It exists so the domain stores have a
// place to load from and flush to; durability is best-effort and the
// in-memory stores remain the source of truth while the process runs.
package filedb

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type DB struct {
	mu   sync.Mutex
	path string
}

// Open prepares a record file, creating its parent directory and an
// empty file if none exists.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	f.Close()
	return &DB{path: path}, nil
}

// ReadAllLines returns every record line, skipping blanks and comments.
func (db *DB) ReadAllLines() ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	f, err := os.Open(db.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", db.path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", db.path, err)
	}
	return lines, nil
}

// AppendLine adds one record to the end of the file.
func (db *DB) AppendLine(line string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	f, err := os.OpenFile(db.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("append %s: %w", db.path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("append %s: %w", db.path, err)
	}
	return nil
}

// WriteAllLines replaces the whole file with the given records.
func (db *DB) WriteAllLines(lines []string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tmp := db.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("rewrite %s: %w", db.path, err)
	}
	w := bufio.NewWriter(f)
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("rewrite %s: %w", db.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("rewrite %s: %w", db.path, err)
	}
	if err := os.Rename(tmp, db.path); err != nil {
		return fmt.Errorf("rewrite %s: %w", db.path, err)
	}
	return nil
}
