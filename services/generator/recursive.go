package generator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"thermobaric/pkg/archive"
	"thermobaric/pkg/payload"
)

// innermostEntryName is the payload member at the bottom of the chain.
const innermostEntryName = "data.bin"

// levelStage is the role an archive plays in a recursive chain.
type levelStage int

const (
	// stageInnermost holds the payload.
	stageInnermost levelStage = iota
	// stageIntermediate holds the archive one level in.
	stageIntermediate
	// stageTerminal is the output archive.
	stageTerminal
)

func (s levelStage) String() string {
	switch s {
	case stageInnermost:
		return "innermost"
	case stageIntermediate:
		return "intermediate"
	case stageTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// stageFor maps level d of a depth-deep chain to its stage. Levels count
// down from depth (innermost) to 1 (the output).
func stageFor(d, depth int) levelStage {
	switch {
	case d == depth:
		return stageInnermost
	case d == 1:
		return stageTerminal
	default:
		return stageIntermediate
	}
}

func levelArtifactName(d int) string {
	return fmt.Sprintf("level-%d.zip", d)
}

// recursive builds the chain innermost first. Each level is written to a
// private scratch directory, and the level it wraps is deleted as soon as
// it has been copied, so at most one finished intermediate archive exists
// between levels. The scratch directory is removed on every exit path.
func (g *Generator) recursive(ctx context.Context, inv *invocation) (*Result, error) {
	req := inv.req

	workDir := g.workDir
	if workDir == "" {
		workDir = filepath.Dir(req.OutputPath)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, ioError("mkdir", workDir, err)
	}
	scratch, err := os.MkdirTemp(workDir, ".thermobaric-"+inv.id+"-")
	if err != nil {
		return nil, ioError("mkdir", workDir, err)
	}
	defer os.RemoveAll(scratch)

	var (
		previous string
		summary  *archive.Summary
	)
	for d := req.RecursionDepth; d >= 1; d-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		stage := stageFor(d, req.RecursionDepth)
		target := filepath.Join(scratch, levelArtifactName(d))
		if stage == stageTerminal {
			target = req.OutputPath
		}

		summary, err = g.buildLevel(ctx, req, d, stage, target, previous)
		if err != nil {
			return nil, err
		}
		if previous != "" {
			if err := os.Remove(previous); err != nil {
				return nil, ioError("remove", previous, err)
			}
		}
		previous = target

		g.emit(ctx, inv, Event{
			Kind:        EventLevelCompleted,
			Path:        target,
			Level:       d,
			ArchiveSize: summary.Size,
		})
	}

	res := newResult(req, summary)
	res.Depth = req.RecursionDepth
	return res, nil
}

func (g *Generator) buildLevel(ctx context.Context, req GenerationRequest, d int, stage levelStage, target, inner string) (*archive.Summary, error) {
	_, span := g.tracer.Start(ctx, "generate.recursive.level", trace.WithAttributes(
		attribute.Int("thermobaric.level", d),
		attribute.String("thermobaric.stage", stage.String()),
	))
	defer span.End()

	summary, err := archive.Build(target, req.CompressionLevel, func(w *archive.Writer) error {
		if stage == stageInnermost {
			_, err := w.WriteEntry(innermostEntryName, payload.ReaderContext(ctx, req.PayloadSize))
			return err
		}
		_, err := w.IncludeFile(inner)
		return err
	}, g.archiveOptions()...)
	if err != nil {
		span.RecordError(err)
		return nil, ioError("write", target, err)
	}
	return summary, nil
}
