package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"thermobaric/pkg/s3"
	"thermobaric/services/generator"
	"thermobaric/services/generator/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// outputFlags are shared by every command that produces archives.
type outputFlags struct {
	manifest    bool
	upload      string
	presign     time.Duration
	metricsFile string
	quiet       bool
}

type generateFlags struct {
	output      string
	selection   generator.Selection
	size        generator.SizeSpec
	compression int
	shards      int
	depth       int
	names       []string
}

func (f generateFlags) request() (generator.GenerationRequest, error) {
	strategy, err := f.selection.Strategy()
	if err != nil {
		return generator.GenerationRequest{}, err
	}

	req := generator.GenerationRequest{
		OutputPath:       f.output,
		Strategy:         strategy,
		CompressionLevel: f.compression,
		ShardCount:       f.shards,
		RecursionDepth:   f.depth,
		TraversalNames:   f.names,
	}
	if strategy == generator.Slip && f.size.IsZero() {
		return req, nil
	}
	if req.PayloadSize, err = f.size.Resolve(); err != nil {
		return generator.GenerationRequest{}, err
	}
	return req, nil
}

func (o outputFlags) validate() error {
	if o.presign > 0 && o.upload == "" {
		return errors.New("--presign requires --upload")
	}
	if o.presign < 0 {
		return fmt.Errorf("--presign must be positive, got %s", o.presign)
	}
	if o.upload != "" {
		if _, _, err := s3.ParseURL(o.upload); err != nil {
			return fmt.Errorf("--upload: %w", err)
		}
	}
	return nil
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var (
		gen generateFlags
		out outputFlags
	)

	cmd := &cobra.Command{
		Use:   "thermobaric -f out.zip (-t|-x|-r|-s) [size] [options]",
		Short: "Generate adversarial ZIP archives for testing decompression defences",
		Long: "thermobaric builds archives that stress extractors: a single extreme-ratio member (-t),\n" +
			"many compressed shards (-x), a chain of nested archives (-r) or members whose names\n" +
			"traverse out of the extraction directory (-s).",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			req, err := gen.request()
			if err != nil {
				return err
			}
			if err := out.validate(); err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := req.Validate(cfg.Limits()); err != nil {
				return err
			}

			a, err := newApp(ctx, cfg, stdout, stderr, out)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			return a.run(ctx, req, out)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&gen.output, "file", "f", "", "Output archive path")
	flags.BoolVarP(&gen.selection.Traditional, "traditional", "t", false, "Single highly compressible member")
	flags.BoolVarP(&gen.selection.Sharded, "sharded", "x", false, "The payload repeated as many compressed shards")
	flags.BoolVarP(&gen.selection.Recursive, "recursive", "r", false, "Archives nested inside archives")
	flags.BoolVarP(&gen.selection.Slip, "slip", "s", false, "Empty members with path traversal names")
	flags.Uint64VarP(&gen.size.Bytes, "bytes", "b", 0, "Payload size in bytes")
	flags.Uint64VarP(&gen.size.Kilobytes, "kilobytes", "k", 0, "Payload size in KiB")
	flags.Uint64VarP(&gen.size.Megabytes, "megabytes", "m", 0, "Payload size in MiB")
	flags.Uint64VarP(&gen.size.Gigabytes, "gigabytes", "g", 0, "Payload size in GiB")
	flags.IntVarP(&gen.compression, "compression", "c", config.DefaultCompression, "Deflate level, 1 (fastest) to 9 (smallest)")
	flags.IntVarP(&gen.shards, "shards", "n", config.DefaultShards, "Number of shards for -x")
	flags.IntVarP(&gen.depth, "depth", "d", config.DefaultDepth, "Nesting depth for -r, counting the output archive")
	flags.StringArrayVar(&gen.names, "name", nil, "Traversal member name for -s (repeatable)")
	_ = cmd.MarkFlagRequired("file")
	cmd.MarkFlagsMutuallyExclusive("traditional", "sharded", "recursive", "slip")
	cmd.MarkFlagsMutuallyExclusive("bytes", "kilobytes", "megabytes", "gigabytes")

	addOutputFlags(cmd, &out)
	cmd.AddCommand(newBatchCommand(stdout, stderr))
	cmd.AddCommand(newVerifyManifestCommand(stdout))
	return cmd
}

func addOutputFlags(cmd *cobra.Command, out *outputFlags) {
	flags := cmd.Flags()
	flags.BoolVar(&out.manifest, "manifest", false, "Write <output>.manifest.yaml, signed when AGE_SECRET_KEY is set")
	flags.StringVar(&out.upload, "upload", "", "Upload the archive to s3://bucket/key")
	flags.DurationVar(&out.presign, "presign", 0, "Print a presigned GET URL valid for this long (requires --upload)")
	flags.StringVar(&out.metricsFile, "metrics-file", "", "Write prometheus metrics to this textfile on exit")
	flags.BoolVar(&out.quiet, "quiet", false, "Only log warnings and errors")
}

func newBatchCommand(stdout, stderr io.Writer) *cobra.Command {
	var out outputFlags

	cmd := &cobra.Command{
		Use:   "batch <plan.yaml>",
		Short: "Generate every archive listed in a YAML plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			if out.upload != "" || out.presign != 0 {
				return errors.New("batch does not support --upload or --presign")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			plan, err := config.LoadPlan(args[0])
			if err != nil {
				return err
			}
			baseDir := filepath.Dir(args[0])
			reqs := make([]generator.GenerationRequest, len(plan.Jobs))
			for i, job := range plan.Jobs {
				if reqs[i], err = job.Request(baseDir); err == nil {
					err = reqs[i].Validate(cfg.Limits())
				}
				if err != nil {
					return fmt.Errorf("job %d (%s): %w", i+1, job.Output, err)
				}
			}

			a, err := newApp(ctx, cfg, stdout, stderr, out)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			for i, req := range reqs {
				if err := a.run(ctx, req, out); err != nil {
					return fmt.Errorf("job %d (%s): %w", i+1, plan.Jobs[i].Output, err)
				}
			}
			return nil
		},
	}

	addOutputFlags(cmd, &out)
	return cmd
}

func newVerifyManifestCommand(stdout io.Writer) *cobra.Command {
	var requireSignature bool

	cmd := &cobra.Command{
		Use:   "verify-manifest <manifest.yaml>",
		Short: "Check a manifest signature and the archive it describes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var signer *generator.Signer
			if generator.SignerConfigured() {
				var err error
				if signer, err = generator.NewSignerFromEnv(); err != nil {
					return err
				}
			}

			m, err := generator.VerifyManifest(args[0], signer, requireSignature)
			if err != nil {
				return err
			}
			state := "unsigned"
			if m.Signature != "" {
				state = "signature ok"
			}
			fmt.Fprintf(stdout, "%s: %s, sha256 %s, %d bytes (%s)\n", args[0], m.Archive.Path, m.Archive.SHA256, m.Archive.Size, state)
			return nil
		},
	}

	cmd.Flags().BoolVar(&requireSignature, "require-signature", false, "Reject manifests without a signature")
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
