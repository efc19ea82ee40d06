package generator

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sort"
	"sync"
	"testing"
	"time"
)

var fixedNow = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }

type member struct {
	name string
	data []byte
}

func openZip(t *testing.T, data []byte) []member {
	t.Helper()
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		t.Fatalf("zip.NewReader() error = %v", err)
	}

	members := make([]member, 0, len(r.File))
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open member %q: %v", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read member %q: %v", f.Name, err)
		}
		members = append(members, member{name: f.Name, data: content})
	}
	return members
}

func openZipFile(t *testing.T, path string) []member {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return openZip(t, data)
}

func assertFill(t *testing.T, data []byte, want int) {
	t.Helper()
	if len(data) != want {
		t.Fatalf("payload len = %d, want %d", len(data), want)
	}
	if !bytes.Equal(data, bytes.Repeat([]byte("X"), want)) {
		t.Fatal("payload contains bytes other than the fill value")
	}
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Observe(_ context.Context, evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func (r *recorder) advisories() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Kind == EventAdvisory {
			out = append(out, e.Advisory)
		}
	}
	return out
}

func newTestGenerator(obs Observer) *Generator {
	return New(Options{
		Observer:  obs,
		Now:       fixedNow,
		FreeSpace: func(string) (uint64, error) { return 1 << 62, nil },
	})
}
