package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"thermobaric/pkg/archive"
	"thermobaric/pkg/bus"
	"thermobaric/pkg/metrics"
	"thermobaric/pkg/s3"
	"thermobaric/pkg/telemetry"
	"thermobaric/services/generator"
	"thermobaric/services/generator/internal/config"
)

const serviceName = "thermobaric"

// app is the process-wide wiring shared by the generating commands.
type app struct {
	stdout      io.Writer
	logger      *log.Logger
	generator   *generator.Generator
	recorder    *metrics.Recorder
	bus         *bus.Bus
	metricsFile string
	shutdown    func(context.Context) error
}

// newApp builds the runtime for requests that have already been validated.
// Nothing is written until a generation runs or close flushes metrics.
func newApp(ctx context.Context, cfg config.Config, stdout, stderr io.Writer, out outputFlags) (*app, error) {
	a := &app{
		stdout:      stdout,
		logger:      telemetry.NewLogger(serviceName, stderr, cfg.Quiet || out.quiet),
		recorder:    metrics.New(),
		metricsFile: cfg.MetricsFile,
	}
	if out.metricsFile != "" {
		a.metricsFile = out.metricsFile
	}

	shutdown, enabled, err := telemetry.InitTracing(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	a.shutdown = shutdown
	if enabled {
		a.logger.Printf("DEBUG tracing enabled")
	}

	observers := generator.Observers{
		generator.LogObserver(a.logger),
		generator.MetricsObserver(a.recorder),
	}
	if cfg.NATSURL != "" {
		b, err := bus.New(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			_ = shutdown(ctx)
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.bus = b
		observers = append(observers, generator.BusObserver(b, func(err error) {
			a.logger.Printf("WARN publish event: %v", err)
		}))
	}

	a.generator = generator.New(generator.Options{
		Limits:   cfg.Limits(),
		Observer: observers,
		WorkDir:  cfg.WorkDir,
	})
	return a, nil
}

// run generates req and then handles the manifest and upload steps.
func (a *app) run(ctx context.Context, req generator.GenerationRequest, out outputFlags) error {
	res, err := a.generator.Generate(ctx, req)
	if err != nil {
		return err
	}

	if out.manifest {
		if err := a.writeManifest(res); err != nil {
			return err
		}
	}
	if out.upload != "" {
		if err := a.upload(ctx, res, out); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) writeManifest(res *generator.Result) error {
	var signer *generator.Signer
	if generator.SignerConfigured() {
		var err error
		if signer, err = generator.NewSignerFromEnv(); err != nil {
			return err
		}
	}

	m, err := generator.NewManifest(res, time.Now())
	if err != nil {
		return fmt.Errorf("build manifest: %w", err)
	}
	path := generator.ManifestPath(res.Path)
	if err := generator.WriteManifest(path, m, signer); err != nil {
		return err
	}
	if signer == nil {
		a.logger.Printf("INFO wrote unsigned manifest %s", path)
	} else {
		a.logger.Printf("INFO wrote manifest %s signed by %s", path, signer.Recipient())
	}
	return nil
}

func (a *app) upload(ctx context.Context, res *generator.Result, out outputFlags) error {
	bucket, key, err := s3.ParseURL(out.upload)
	if err != nil {
		return err
	}
	client, err := s3.NewClientFromEnv(telemetry.HTTPClient(5 * time.Minute))
	if err != nil {
		return fmt.Errorf("s3 client: %w", err)
	}

	digest, _, err := archive.Digest(res.Path)
	if err != nil {
		return fmt.Errorf("hash %s: %w", res.Path, err)
	}
	if err := client.UploadFile(ctx, bucket, key, res.Path, digest); err != nil {
		return err
	}
	a.logger.Printf("INFO uploaded %s to %s", res.Path, out.upload)

	if out.presign > 0 {
		url, err := client.PresignGet(ctx, bucket, key, out.presign)
		if err != nil {
			return fmt.Errorf("presign %s: %w", out.upload, err)
		}
		fmt.Fprintln(a.stdout, url)
	}
	return nil
}

// close flushes metrics, drains the bus and stops tracing. Failures are
// logged; the command result is already decided.
func (a *app) close(ctx context.Context) {
	if a.metricsFile != "" {
		if err := a.recorder.WriteTextfile(a.metricsFile); err != nil {
			a.logger.Printf("WARN write metrics: %v", err)
		}
	}
	a.bus.Close()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.shutdown(shutdownCtx); err != nil {
		a.logger.Printf("WARN shutdown tracing: %v", err)
	}
}
