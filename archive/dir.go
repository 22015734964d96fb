package archive

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirSink writes each entry as a loose file in a directory.
type DirSink struct {
	dir     string
	entries []Entry
	closed  bool
}

// CreateDir creates the directory if needed and returns a sink writing into it.
func CreateDir(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %q: %v", dir, err)
	}
	return &DirSink{dir: dir}, nil
}

func (s *DirSink) Put(name string, data []byte) error {
	if s.closed {
		return fmt.Errorf("can't add %q to closed directory sink", name)
	}
	if err := checkName(name); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %v", name, err)
	}
	s.entries = append(s.entries, Entry{Name: name, Size: len(data)})
	return nil
}

// Entries returns the entries written so far.
func (s *DirSink) Entries() []Entry {
	return s.entries
}

func (s *DirSink) Close() error {
	s.closed = true
	return nil
}
