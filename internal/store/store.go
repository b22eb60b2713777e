package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"fiftycal/internal/ics"
)

const ext = ".ics"

// Store keeps one <label>.ics file per calendar in a directory.
type Store struct {
	dir string
}

// New returns a store rooted at dir. The directory is created on first Save.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the file backing label.
func (s *Store) Path(label string) string {
	return filepath.Join(s.dir, label+ext)
}

// Load reads and parses the calendar stored under label. ok is false, with a
// nil error, when no file exists yet.
func (s *Store) Load(label string) (cal *ics.Calendar, ok bool, err error) {
	data, err := s.Read(label)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	cal, err = ics.Parse(data)
	if err != nil {
		return nil, false, fmt.Errorf("store: %s: %w", s.Path(label), err)
	}
	return cal, true, nil
}

// Read returns the raw bytes stored under label.
func (s *Store) Read(label string) ([]byte, error) {
	if err := checkLabel(label); err != nil {
		return nil, err
	}
	return os.ReadFile(s.Path(label))
}

// Save serializes cal and writes it under label atomically.
func (s *Store) Save(label string, cal *ics.Calendar) error {
	if err := checkLabel(label); err != nil {
		return err
	}
	if cal == nil {
		return errors.New("store: calendar is nil")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".fiftycal-"+label+"-*.tmp")
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(cal.Serialize()); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write %s: %w", label, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: sync %s: %w", label, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := os.Rename(tmpName, s.Path(label)); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

// Labels lists the labels that have a stored file, sorted.
func (s *Store) Labels() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), ext) {
			continue
		}
		out = append(out, strings.TrimSuffix(name, filepath.Ext(name)))
	}
	sort.Strings(out)
	return out, nil
}

func checkLabel(label string) error {
	if label == "" || label == "." || label == ".." || strings.ContainsAny(label, `/\`) {
		return fmt.Errorf("store: invalid label %q", label)
	}
	return nil
}
