package generator

import (
	"context"
	"fmt"

	"thermobaric/pkg/archive"
	"thermobaric/pkg/payload"
)

func traditionalEntryName(size uint64) string {
	return fmt.Sprintf("bin-%d.dat", size)
}

func shardEntryName(i int) string {
	return fmt.Sprintf("shard-%d.dat", i)
}

// traditional writes the whole payload as a single member.
func (g *Generator) traditional(ctx context.Context, inv *invocation) (*Result, error) {
	req := inv.req
	name := traditionalEntryName(req.PayloadSize)

	summary, err := archive.Build(req.OutputPath, req.CompressionLevel, func(w *archive.Writer) error {
		n, err := w.WriteEntry(name, payload.ReaderContext(ctx, req.PayloadSize))
		if err != nil {
			return err
		}
		g.emit(ctx, inv, Event{Kind: EventEntryWritten, Path: req.OutputPath, Entry: name, Bytes: uint64(n)})
		return nil
	}, g.archiveOptions()...)
	if err != nil {
		return nil, ioError("write", req.OutputPath, err)
	}
	return newResult(req, summary), nil
}

// sharded writes the payload ShardCount times, each as its own member.
func (g *Generator) sharded(ctx context.Context, inv *invocation) (*Result, error) {
	req := inv.req

	summary, err := archive.Build(req.OutputPath, req.CompressionLevel, func(w *archive.Writer) error {
		for i := 0; i < req.ShardCount; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			name := shardEntryName(i)
			n, err := w.WriteEntry(name, payload.ReaderContext(ctx, req.PayloadSize))
			if err != nil {
				return err
			}
			g.emit(ctx, inv, Event{Kind: EventEntryWritten, Path: req.OutputPath, Entry: name, Bytes: uint64(n)})
		}
		return nil
	}, g.archiveOptions()...)
	if err != nil {
		return nil, ioError("write", req.OutputPath, err)
	}
	return newResult(req, summary), nil
}

// slip writes one empty member per traversal name. Names are neither
// cleaned nor checked; judging them is the extractor's job.
func (g *Generator) slip(ctx context.Context, inv *invocation) (*Result, error) {
	req := inv.req

	summary, err := archive.Build(req.OutputPath, req.CompressionLevel, func(w *archive.Writer) error {
		for _, name := range req.TraversalNames {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := w.WriteBytes(name, nil); err != nil {
				return err
			}
			g.emit(ctx, inv, Event{Kind: EventEntryWritten, Path: req.OutputPath, Entry: name})
		}
		return nil
	}, g.archiveOptions()...)
	if err != nil {
		return nil, ioError("write", req.OutputPath, err)
	}
	return newResult(req, summary), nil
}
