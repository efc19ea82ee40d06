// Package archive writes ZIP containers whose deflate effort is bound to a
// single compression level for every member.
//
// Output is staged in a hidden temporary file next to the destination and
// only renamed into place by Close, so a failed build never leaves a
// truncated archive at the requested path.
package archive

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

const (
	// MinLevel stores members without compression.
	MinLevel = flate.NoCompression
	// MaxLevel is the strongest deflate effort.
	MaxLevel = flate.BestCompression

	partialSuffix = ".partial"
)

// ErrClosed is returned when a Writer is used after Close or Abort.
var ErrClosed = errors.New("archive: writer closed")

// Entry describes one member written to the archive.
type Entry struct {
	Name string `yaml:"name" json:"name"`
	Size uint64 `yaml:"size" json:"size"`
}

// Summary describes a committed archive.
type Summary struct {
	Path    string
	Size    int64
	Entries []Entry
}

// Option customises a Writer.
type Option func(*Writer)

// WithModTime fixes the modification time recorded for every member. Two
// archives built from the same members with the same time are identical.
func WithModTime(t time.Time) Option {
	return func(w *Writer) {
		w.modTime = t
	}
}

// Writer is a handle on one in-progress archive.
type Writer struct {
	path    string
	file    *os.File
	zw      *zip.Writer
	method  uint16
	modTime time.Time
	entries []Entry
	done    bool
	size    int64
}

// Create opens a new archive destined for path. Members are deflated at
// level; level 0 stores them.
func Create(path string, level int, opts ...Option) (*Writer, error) {
	if path == "" {
		return nil, errors.New("archive: output path is required")
	}
	if level < MinLevel || level > MaxLevel {
		return nil, fmt.Errorf("archive: compression level %d outside %d-%d", level, MinLevel, MaxLevel)
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, pathError("mkdir", dir, err)
		}
	}

	file, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*"+partialSuffix)
	if err != nil {
		return nil, pathError("create", path, err)
	}

	w := &Writer{
		path:   path,
		file:   file,
		zw:     zip.NewWriter(file),
		method: zip.Deflate,
	}
	if level == flate.NoCompression {
		w.method = zip.Store
	} else {
		w.zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(out, level)
		})
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.modTime.IsZero() {
		w.modTime = time.Now()
	}
	return w, nil
}

// Path returns the final destination of the archive.
func (w *Writer) Path() string {
	return w.path
}

// WriteEntry adds a member called name whose content is read from r until
// EOF. The name is recorded exactly as given.
func (w *Writer) WriteEntry(name string, r io.Reader) (int64, error) {
	if w.done {
		return 0, ErrClosed
	}

	header := &zip.FileHeader{
		Name:     name,
		Method:   w.method,
		Modified: w.modTime,
	}
	header.SetMode(0o644)

	dst, err := w.zw.CreateHeader(header)
	if err != nil {
		return 0, fmt.Errorf("entry %q: %w", name, pathError("write", w.path, err))
	}
	n, err := io.Copy(dst, r)
	if err != nil {
		return n, fmt.Errorf("entry %q: %w", name, pathError("write", w.path, err))
	}

	w.entries = append(w.entries, Entry{Name: name, Size: uint64(n)})
	return n, nil
}

// WriteBytes adds a member called name holding data.
func (w *Writer) WriteBytes(name string, data []byte) error {
	_, err := w.WriteEntry(name, bytes.NewReader(data))
	return err
}

// IncludeFile adds the raw bytes of the file at src as a member named after
// its base name.
func (w *Writer) IncludeFile(src string) (int64, error) {
	if w.done {
		return 0, ErrClosed
	}

	file, err := os.Open(src)
	if err != nil {
		return 0, pathError("open", src, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, pathError("stat", src, err)
	}
	if !info.Mode().IsRegular() {
		return 0, pathError("include", src, fmt.Errorf("not a regular file"))
	}

	return w.WriteEntry(filepath.Base(src), file)
}

// Entries returns the members written so far.
func (w *Writer) Entries() []Entry {
	out := make([]Entry, len(w.entries))
	copy(out, w.entries)
	return out
}

// Close writes the central directory and moves the archive into place.
// Any failure discards the staged file.
func (w *Writer) Close() error {
	if w.done {
		return ErrClosed
	}
	w.done = true

	tmp := w.file.Name()
	if err := w.zw.Close(); err != nil {
		w.file.Close()
		os.Remove(tmp)
		return pathError("finalize", w.path, err)
	}
	if err := w.file.Chmod(0o644); err != nil {
		w.file.Close()
		os.Remove(tmp)
		return pathError("chmod", w.path, err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(tmp)
		return pathError("close", w.path, err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		os.Remove(tmp)
		return pathError("rename", w.path, err)
	}

	info, err := os.Stat(w.path)
	if err != nil {
		return pathError("stat", w.path, err)
	}
	w.size = info.Size()
	return nil
}

// Abort discards the archive. It is a no-op after Close, which makes it
// safe to defer right after Create.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true

	tmp := w.file.Name()
	w.file.Close()
	if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return pathError("remove", tmp, err)
	}
	return nil
}

// Summary reports the committed archive. Size is zero until Close succeeds.
func (w *Writer) Summary() *Summary {
	return &Summary{
		Path:    w.path,
		Size:    w.size,
		Entries: w.Entries(),
	}
}

// Build creates an archive at path, hands it to fn and commits it when fn
// returns nil. On any error nothing is left at path.
func Build(path string, level int, fn func(*Writer) error, opts ...Option) (*Summary, error) {
	w, err := Create(path, level, opts...)
	if err != nil {
		return nil, err
	}
	defer w.Abort()

	if err := fn(w); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return w.Summary(), nil
}

// pathError reports err against path, flattening a nested *fs.PathError so
// the message names the archive rather than its staging file.
func pathError(op, path string, err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		err = pe.Err
	}
	return &fs.PathError{Op: op, Path: path, Err: err}
}

// Digest returns the hex sha256 and size of the file at path.
func Digest(path string) (string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, pathError("open", path, err)
	}
	defer file.Close()

	hash := sha256.New()
	size, err := io.Copy(hash, file)
	if err != nil {
		return "", 0, pathError("read", path, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), size, nil
}
