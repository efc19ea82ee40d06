// Package generator assembles adversarial ZIP archives for exercising the
// defences of decompression pipelines: extreme-ratio single members, many
// compressed shards, chains of nested archives and members whose names
// traverse out of the extraction directory.
package generator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"thermobaric/pkg/archive"
	"thermobaric/pkg/diskspace"
)

const (
	tracerName = "thermobaric/generator"

	// deflateRatio is the best expansion deflate can encode, used to
	// estimate how much disk an archive needs.
	deflateRatio = 1032
)

// Options configures a Generator. Zero fields take defaults.
type Options struct {
	Limits   Limits
	Observer Observer
	// Now stamps member modification times. Fixing it makes output
	// byte-for-byte reproducible.
	Now func() time.Time
	// WorkDir is where recursive generations stage intermediate archives.
	// Empty means the directory of the output.
	WorkDir string
	Tracer  trace.Tracer
	// FreeSpace reports free bytes for a directory. Nil uses the platform
	// query; a query error suppresses the free-space advisory.
	FreeSpace func(dir string) (uint64, error)
}

// Generator builds archives. It holds no state between calls and is safe
// for concurrent use when callers write to distinct output paths.
type Generator struct {
	limits    Limits
	observer  Observer
	now       func() time.Time
	workDir   string
	tracer    trace.Tracer
	freeSpace func(string) (uint64, error)
}

// New returns a Generator configured by opts.
func New(opts Options) *Generator {
	g := &Generator{
		limits:    opts.Limits.withDefaults(),
		observer:  opts.Observer,
		now:       opts.Now,
		workDir:   opts.WorkDir,
		tracer:    opts.Tracer,
		freeSpace: opts.FreeSpace,
	}
	if g.observer == nil {
		g.observer = discard{}
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.tracer == nil {
		g.tracer = otel.Tracer(tracerName)
	}
	if g.freeSpace == nil {
		g.freeSpace = diskspace.Available
	}
	return g
}

// Result describes a committed archive.
type Result struct {
	Path             string
	Strategy         Strategy
	CompressionLevel int
	PayloadSize      uint64
	Entries          []archive.Entry
	ArchiveSize      int64
	// ExpandedSize is the payload a full, recursive extraction yields.
	ExpandedSize uint64
	// Depth is the number of nested archives, including the output.
	Depth int
}

// invocation carries the per-call identity threaded through events.
type invocation struct {
	id  string
	req GenerationRequest
}

// Generate validates req and builds its archive. Validation failures are
// reported before any file is created.
func (g *Generator) Generate(ctx context.Context, req GenerationRequest) (*Result, error) {
	if err := req.Validate(g.limits); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inv := &invocation{id: uuid.NewString(), req: req}

	ctx, span := g.tracer.Start(ctx, "generate."+req.Strategy.String(), trace.WithAttributes(
		attribute.String("thermobaric.strategy", req.Strategy.String()),
		attribute.String("thermobaric.output", req.OutputPath),
		attribute.Int("thermobaric.compression_level", req.CompressionLevel),
		attribute.Int64("thermobaric.payload_size", int64(req.PayloadSize)),
	))
	defer span.End()

	g.emit(ctx, inv, Event{Kind: EventStarted, Path: req.OutputPath, Bytes: req.PayloadSize})
	g.advise(ctx, inv)

	var (
		res *Result
		err error
	)
	switch req.Strategy {
	case Traditional:
		res, err = g.traditional(ctx, inv)
	case Sharded:
		res, err = g.sharded(ctx, inv)
	case Recursive:
		res, err = g.recursive(ctx, inv)
	case Slip:
		res, err = g.slip(ctx, inv)
	default:
		err = configError("strategy", "unsupported strategy %s", req.Strategy)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.emit(ctx, inv, Event{Kind: EventFailed, Path: req.OutputPath, Err: err, Error: err.Error()})
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("thermobaric.archive_size", res.ArchiveSize),
		attribute.Int64("thermobaric.expanded_size", int64(res.ExpandedSize)),
	)
	g.emit(ctx, inv, Event{
		Kind:        EventCompleted,
		Path:        res.Path,
		Bytes:       res.ExpandedSize,
		ArchiveSize: res.ArchiveSize,
	})
	return res, nil
}

func (g *Generator) emit(ctx context.Context, inv *invocation, evt Event) {
	evt.Invocation = inv.id
	evt.Strategy = inv.req.Strategy
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}
	g.observer.Observe(ctx, evt)
}

// advise raises resource advisories. Generation continues regardless.
func (g *Generator) advise(ctx context.Context, inv *invocation) {
	req := inv.req
	threshold := g.limits.AdvisoryBytes

	if req.Strategy != Slip && req.PayloadSize > threshold {
		g.emit(ctx, inv, Event{
			Kind:     EventAdvisory,
			Advisory: AdvisoryPayloadSize,
			Path:     req.OutputPath,
			Bytes:    req.PayloadSize,
			Message:  fmt.Sprintf("payload of %d bytes exceeds %d bytes, this will consume system resources", req.PayloadSize, threshold),
		})
	}

	expanded := req.ExpandedSize()
	if req.Strategy == Sharded && expanded > threshold {
		g.emit(ctx, inv, Event{
			Kind:     EventAdvisory,
			Advisory: AdvisoryAggregateSize,
			Path:     req.OutputPath,
			Bytes:    expanded,
			Message:  fmt.Sprintf("%d shards expand to %d bytes, above %d bytes", req.ShardCount, expanded, threshold),
		})
	}

	if expanded == 0 {
		return
	}
	need := estimateDisk(req)
	dir := g.stagingDir(req)
	free, err := g.freeSpace(dir)
	if err != nil || free >= need {
		return
	}
	g.emit(ctx, inv, Event{
		Kind:     EventAdvisory,
		Advisory: AdvisoryFreeSpace,
		Path:     dir,
		Bytes:    need,
		Message:  fmt.Sprintf("%s has %d bytes free, generation may need about %d", dir, free, need),
	})
}

// estimateDisk approximates peak disk use: the compressed payload, doubled
// for recursive chains where two levels coexist while one is copied.
func estimateDisk(req GenerationRequest) uint64 {
	need := req.ExpandedSize()/deflateRatio + 1
	if req.Strategy == Recursive {
		need *= 2
	}
	return need
}

// stagingDir is the closest existing directory that will receive files.
func (g *Generator) stagingDir(req GenerationRequest) string {
	dir := g.workDir
	if dir == "" || req.Strategy != Recursive {
		dir = filepath.Dir(req.OutputPath)
	}
	for {
		if _, err := os.Stat(dir); err == nil || errors.Is(err, os.ErrPermission) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

func (g *Generator) archiveOptions() []archive.Option {
	return []archive.Option{archive.WithModTime(g.now())}
}

func newResult(req GenerationRequest, summary *archive.Summary) *Result {
	return &Result{
		Path:             summary.Path,
		Strategy:         req.Strategy,
		CompressionLevel: req.CompressionLevel,
		PayloadSize:      req.PayloadSize,
		Entries:          summary.Entries,
		ArchiveSize:      summary.Size,
		ExpandedSize:     req.ExpandedSize(),
	}
}
