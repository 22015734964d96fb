package archive

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/Core11-ZoltanK/LichtFeld-Studio/lfs"

	"github.com/klauspost/compress/zip"
)

// ZipSink writes entries into a zip stream.  Already-compressed images are stored as is;
// other entries are deflated.
type ZipSink struct {
	zw      *zip.Writer
	closer  io.Closer // underlying file or stream, may be nil
	modTime time.Time
	entries []Entry
	closed  bool
}

// NewZip returns a sink writing a zip stream to w.  If w is an io.Closer it is closed along
// with the sink.
func NewZip(w io.Writer, opts Options) *ZipSink {
	s := &ZipSink{zw: zip.NewWriter(w), modTime: opts.modTime()}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// CreateZip creates (or truncates) a zip file at filename.
func CreateZip(filename string, opts Options) (*ZipSink, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %q: %v", filename, err)
	}
	lfs.Debugf("Writing zip bundle to %s\n", filename)
	return NewZip(f, opts), nil
}

func compressed(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".webp", ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

func (s *ZipSink) Put(name string, data []byte) error {
	if s.closed {
		return fmt.Errorf("can't add %q to closed archive", name)
	}
	if err := checkName(name); err != nil {
		return err
	}
	hdr := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: s.modTime,
	}
	if compressed(name) {
		hdr.Method = zip.Store
	}
	w, err := s.zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("failed to add %q to archive: %v", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write %q to archive: %v", name, err)
	}
	s.entries = append(s.entries, Entry{Name: name, Size: len(data)})
	return nil
}

// Entries returns the entries written so far.
func (s *ZipSink) Entries() []Entry {
	return s.entries
}

func (s *ZipSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.zw.Close()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("failed to finalize archive: %v", err)
	}
	return nil
}
