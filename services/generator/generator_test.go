package generator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestTraditional(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "traditional.zip")

	res, err := newTestGenerator(nil).Generate(context.Background(), GenerationRequest{
		Strategy:         Traditional,
		PayloadSize:      3 * MB,
		CompressionLevel: 9,
		OutputPath:       out,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	members := openZipFile(t, out)
	if len(members) != 1 {
		t.Fatalf("members = %d, want 1", len(members))
	}
	if members[0].name != "bin-3145728.dat" {
		t.Fatalf("member name = %q", members[0].name)
	}
	assertFill(t, members[0].data, int(3*MB))

	if res.ExpandedSize != 3*MB || res.ArchiveSize <= 0 || res.ArchiveSize > int64(3*MB)/100 {
		t.Fatalf("result = %+v", res)
	}
	if got := dirEntries(t, dir); !reflect.DeepEqual(got, []string{"traditional.zip"}) {
		t.Fatalf("dir = %v", got)
	}
}

func TestSharded(t *testing.T) {
	out := filepath.Join(t.TempDir(), "sharded.zip")
	const shards = 7

	res, err := newTestGenerator(nil).Generate(context.Background(), GenerationRequest{
		Strategy:         Sharded,
		PayloadSize:      64 * KB,
		CompressionLevel: 1,
		OutputPath:       out,
		ShardCount:       shards,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	members := openZipFile(t, out)
	if len(members) != shards {
		t.Fatalf("members = %d, want %d", len(members), shards)
	}
	seen := make(map[string]bool, shards)
	for i, m := range members {
		if want := fmt.Sprintf("shard-%d.dat", i); m.name != want {
			t.Fatalf("member %d = %q, want %q", i, m.name, want)
		}
		if seen[m.name] {
			t.Fatalf("duplicate member %q", m.name)
		}
		seen[m.name] = true
		assertFill(t, m.data, int(64*KB))
	}
	if res.ExpandedSize != shards*64*KB {
		t.Fatalf("ExpandedSize = %d, want %d", res.ExpandedSize, shards*64*KB)
	}
}

func TestRecursive(t *testing.T) {
	for _, depth := range []int{2, 3, 6} {
		t.Run(fmt.Sprintf("depth %d", depth), func(t *testing.T) {
			dir := t.TempDir()
			out := filepath.Join(dir, "nested.zip")
			const size = 100 * KB

			res, err := newTestGenerator(nil).Generate(context.Background(), GenerationRequest{
				Strategy:         Recursive,
				PayloadSize:      size,
				CompressionLevel: 6,
				OutputPath:       out,
				RecursionDepth:   depth,
			})
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if res.Depth != depth || res.ExpandedSize != size {
				t.Fatalf("result = %+v", res)
			}

			data, err := os.ReadFile(out)
			if err != nil {
				t.Fatal(err)
			}
			for level := 2; level <= depth; level++ {
				members := openZip(t, data)
				if len(members) != 1 {
					t.Fatalf("level %d archive has %d members, want 1", level-1, len(members))
				}
				if want := fmt.Sprintf("level-%d.zip", level); members[0].name != want {
					t.Fatalf("member = %q, want %q", members[0].name, want)
				}
				data = members[0].data
			}

			members := openZip(t, data)
			if len(members) != 1 || members[0].name != "data.bin" {
				t.Fatalf("innermost members = %v", members)
			}
			assertFill(t, members[0].data, int(size))

			if got := dirEntries(t, dir); !reflect.DeepEqual(got, []string{"nested.zip"}) {
				t.Fatalf("artifacts left behind: %v", got)
			}
		})
	}
}

func TestRecursiveWorkDir(t *testing.T) {
	work := t.TempDir()
	outDir := t.TempDir()
	out := filepath.Join(outDir, "nested.zip")

	g := New(Options{Now: fixedNow, WorkDir: work})
	if _, err := g.Generate(context.Background(), GenerationRequest{
		Strategy:         Recursive,
		PayloadSize:      KB,
		CompressionLevel: 1,
		OutputPath:       out,
		RecursionDepth:   4,
	}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got := dirEntries(t, work); len(got) != 0 {
		t.Fatalf("work dir not cleaned: %v", got)
	}
	if got := dirEntries(t, outDir); !reflect.DeepEqual(got, []string{"nested.zip"}) {
		t.Fatalf("output dir = %v", got)
	}
}

func TestRecursiveLevelEvents(t *testing.T) {
	rec := &recorder{}
	out := filepath.Join(t.TempDir(), "nested.zip")
	if _, err := newTestGenerator(rec).Generate(context.Background(), GenerationRequest{
		Strategy:         Recursive,
		PayloadSize:      KB,
		CompressionLevel: 1,
		OutputPath:       out,
		RecursionDepth:   3,
	}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	var levels []int
	for _, e := range rec.events {
		if e.Kind == EventLevelCompleted {
			levels = append(levels, e.Level)
		}
	}
	if !reflect.DeepEqual(levels, []int{3, 2, 1}) {
		t.Fatalf("levels = %v, want [3 2 1]", levels)
	}
	last := rec.events[len(rec.events)-1]
	if last.Kind != EventCompleted || last.Path != out {
		t.Fatalf("last event = %+v", last)
	}
}

func TestStageFor(t *testing.T) {
	tests := []struct {
		d, depth int
		want     levelStage
	}{
		{d: 5, depth: 5, want: stageInnermost},
		{d: 4, depth: 5, want: stageIntermediate},
		{d: 2, depth: 5, want: stageIntermediate},
		{d: 1, depth: 5, want: stageTerminal},
		{d: 2, depth: 2, want: stageInnermost},
		{d: 1, depth: 2, want: stageTerminal},
	}
	for _, tt := range tests {
		if got := stageFor(tt.d, tt.depth); got != tt.want {
			t.Errorf("stageFor(%d, %d) = %v, want %v", tt.d, tt.depth, got, tt.want)
		}
	}
}

func TestSlip(t *testing.T) {
	out := filepath.Join(t.TempDir(), "slip.zip")
	names := []string{"../../etc/passwd", "a/b/../../c"}

	res, err := newTestGenerator(nil).Generate(context.Background(), GenerationRequest{
		Strategy:         Slip,
		CompressionLevel: 1,
		OutputPath:       out,
		TraversalNames:   names,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.ExpandedSize != 0 {
		t.Fatalf("ExpandedSize = %d, want 0", res.ExpandedSize)
	}

	members := openZipFile(t, out)
	if len(members) != len(names) {
		t.Fatalf("members = %d, want %d", len(members), len(names))
	}
	for i, m := range members {
		if m.name != names[i] {
			t.Fatalf("member %d name = %q, want %q", i, m.name, names[i])
		}
		if len(m.data) != 0 {
			t.Fatalf("member %q len = %d, want 0", m.name, len(m.data))
		}
	}
}

func TestRejectedRequestsWriteNothing(t *testing.T) {
	tests := []struct {
		name string
		req  GenerationRequest
	}{
		{name: "compression 10", req: GenerationRequest{Strategy: Traditional, PayloadSize: KB, CompressionLevel: 10}},
		{name: "depth 0", req: GenerationRequest{Strategy: Recursive, PayloadSize: KB, CompressionLevel: 1}},
		{name: "depth 1", req: GenerationRequest{Strategy: Recursive, PayloadSize: KB, CompressionLevel: 1, RecursionDepth: 1}},
		{name: "depth above ceiling", req: GenerationRequest{Strategy: Recursive, PayloadSize: KB, CompressionLevel: 1, RecursionDepth: DefaultMaxDepth + 1}},
		{name: "no strategy", req: GenerationRequest{PayloadSize: KB, CompressionLevel: 1}},
		{name: "slip without names", req: GenerationRequest{Strategy: Slip, CompressionLevel: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.req.OutputPath = filepath.Join(dir, "out.zip")

			rec := &recorder{}
			_, err := newTestGenerator(rec).Generate(context.Background(), tt.req)
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("Generate() error = %v, want ErrConfiguration", err)
			}
			if got := dirEntries(t, dir); len(got) != 0 {
				t.Fatalf("files created for rejected request: %v", got)
			}
			if len(rec.events) != 0 {
				t.Fatalf("events emitted for rejected request: %v", rec.kinds())
			}
		})
	}
}

func TestTraditionalIsReproducible(t *testing.T) {
	dir := t.TempDir()
	build := func(name string) []byte {
		out := filepath.Join(dir, name)
		if _, err := newTestGenerator(nil).Generate(context.Background(), GenerationRequest{
			Strategy:         Traditional,
			PayloadSize:      2 * MB,
			CompressionLevel: 5,
			OutputPath:       out,
		}); err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		data, err := os.ReadFile(out)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}

	first := build("a.zip")
	second := build("b.zip")
	if !bytes.Equal(first, second) {
		t.Fatal("identical requests produced different archives")
	}
}

func TestEventSequence(t *testing.T) {
	rec := &recorder{}
	out := filepath.Join(t.TempDir(), "sharded.zip")
	if _, err := newTestGenerator(rec).Generate(context.Background(), GenerationRequest{
		Strategy:         Sharded,
		PayloadSize:      KB,
		CompressionLevel: 1,
		OutputPath:       out,
		ShardCount:       2,
	}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	want := []EventKind{EventStarted, EventEntryWritten, EventEntryWritten, EventCompleted}
	if got := rec.kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	first := rec.events[0].Invocation
	for _, e := range rec.events {
		if e.Invocation != first || e.Strategy != Sharded {
			t.Fatalf("event %+v does not belong to invocation %s", e, first)
		}
	}
}

func TestAdvisories(t *testing.T) {
	tests := []struct {
		name string
		req  GenerationRequest
		free uint64
		want []string
	}{
		{
			name: "payload over threshold",
			req:  GenerationRequest{Strategy: Traditional, PayloadSize: 8 * KB},
			free: 1 << 40,
			want: []string{AdvisoryPayloadSize},
		},
		{
			name: "aggregate over threshold",
			req:  GenerationRequest{Strategy: Sharded, PayloadSize: 2 * KB, ShardCount: 3},
			free: 1 << 40,
			want: []string{AdvisoryAggregateSize},
		},
		{
			name: "low free space",
			req:  GenerationRequest{Strategy: Traditional, PayloadSize: 2 * KB},
			free: 0,
			want: []string{AdvisoryFreeSpace},
		},
		{
			name: "quiet",
			req:  GenerationRequest{Strategy: Traditional, PayloadSize: 2 * KB},
			free: 1 << 40,
		},
		{
			name: "slip ignores size",
			req:  GenerationRequest{Strategy: Slip, PayloadSize: 1 << 40, TraversalNames: []string{"../x"}},
			free: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			g := New(Options{
				Limits:    Limits{AdvisoryBytes: 4 * KB},
				Observer:  rec,
				Now:       fixedNow,
				FreeSpace: func(string) (uint64, error) { return tt.free, nil },
			})
			tt.req.CompressionLevel = 1
			tt.req.OutputPath = filepath.Join(t.TempDir(), "out.zip")

			if _, err := g.Generate(context.Background(), tt.req); err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if got := rec.advisories(); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("advisories = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanceledContext(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestGenerator(nil).Generate(ctx, GenerationRequest{
		Strategy:         Traditional,
		PayloadSize:      KB,
		CompressionLevel: 1,
		OutputPath:       filepath.Join(dir, "out.zip"),
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Generate() error = %v, want context.Canceled", err)
	}
	if got := dirEntries(t, dir); len(got) != 0 {
		t.Fatalf("files left after cancel: %v", got)
	}
}

func TestCancelMidRecursion(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs := ObserverFunc(func(_ context.Context, evt Event) {
		if evt.Kind == EventLevelCompleted && evt.Level == 3 {
			cancel()
		}
	})
	_, err := newTestGenerator(obs).Generate(ctx, GenerationRequest{
		Strategy:         Recursive,
		PayloadSize:      KB,
		CompressionLevel: 1,
		OutputPath:       filepath.Join(dir, "nested.zip"),
		RecursionDepth:   5,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Generate() error = %v, want context.Canceled", err)
	}
	if got := dirEntries(t, dir); len(got) != 0 {
		t.Fatalf("files left after cancel: %v", got)
	}
}

func TestUnwritableOutput(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	rec := &recorder{}
	_, err := newTestGenerator(rec).Generate(context.Background(), GenerationRequest{
		Strategy:         Traditional,
		PayloadSize:      KB,
		CompressionLevel: 1,
		OutputPath:       filepath.Join(blocker, "out.zip"),
	})
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("Generate() error = %v, want *IOError", err)
	}
	if ioErr.Path == "" {
		t.Fatal("IOError.Path is empty")
	}
	var pe *fs.PathError
	if !errors.As(err, &pe) {
		t.Fatalf("IOError does not unwrap to *fs.PathError: %v", err)
	}
	kinds := rec.kinds()
	if kinds[len(kinds)-1] != EventFailed {
		t.Fatalf("events = %v, want trailing failed", kinds)
	}
}
