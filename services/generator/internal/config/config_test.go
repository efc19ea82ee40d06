package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"thermobaric/services/generator"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    Config
		wantErr string
	}{
		{
			name: "defaults",
			want: Config{
				AdvisoryBytes: generator.DefaultAdvisoryBytes,
				MaxDepth:      generator.DefaultMaxDepth,
				NATSSubject:   "thermobaric.generation",
			},
		},
		{
			name: "overrides",
			env: map[string]string{
				"THERMOBARIC_ADVISORY_BYTES": "1GB",
				"THERMOBARIC_MAX_DEPTH":      "12",
				"THERMOBARIC_WORK_DIR":       "/scratch",
				"THERMOBARIC_NATS_URL":       "nats://bus:4222",
				"THERMOBARIC_NATS_SUBJECT":   "lab.bombs",
				"THERMOBARIC_METRICS_FILE":   "/var/lib/node_exporter/thermobaric.prom",
				"THERMOBARIC_LOG_QUIET":      "true",
			},
			want: Config{
				AdvisoryBytes: generator.GB,
				MaxDepth:      12,
				WorkDir:       "/scratch",
				NATSURL:       "nats://bus:4222",
				NATSSubject:   "lab.bombs",
				MetricsFile:   "/var/lib/node_exporter/thermobaric.prom",
				Quiet:         true,
			},
		},
		{
			name:    "invalid advisory",
			env:     map[string]string{"THERMOBARIC_ADVISORY_BYTES": "lots"},
			wantErr: "THERMOBARIC_ADVISORY_BYTES",
		},
		{
			name:    "invalid depth",
			env:     map[string]string{"THERMOBARIC_MAX_DEPTH": "deep"},
			wantErr: "THERMOBARIC_MAX_DEPTH",
		},
		{
			name:    "depth too small",
			env:     map[string]string{"THERMOBARIC_MAX_DEPTH": "1"},
			wantErr: "THERMOBARIC_MAX_DEPTH",
		},
		{
			name:    "invalid quiet",
			env:     map[string]string{"THERMOBARIC_LOG_QUIET": "sometimes"},
			wantErr: "THERMOBARIC_LOG_QUIET",
		},
	}

	keys := []string{
		"THERMOBARIC_ADVISORY_BYTES", "THERMOBARIC_MAX_DEPTH", "THERMOBARIC_WORK_DIR",
		"THERMOBARIC_NATS_URL", "THERMOBARIC_NATS_SUBJECT", "THERMOBARIC_METRICS_FILE",
		"THERMOBARIC_LOG_QUIET",
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range keys {
				t.Setenv(k, tt.env[k])
			}
			got, err := Load()
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want mention of %s", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Load() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestConfigLimits(t *testing.T) {
	cfg := Config{AdvisoryBytes: 10, MaxDepth: 3}
	if got, want := cfg.Limits(), (generator.Limits{AdvisoryBytes: 10, MaxDepth: 3}); got != want {
		t.Fatalf("Limits() = %+v, want %+v", got, want)
	}
}

func writePlan(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPlan(t *testing.T) {
	path := writePlan(t, `
jobs:
  - output: flat.zip
    strategy: traditional
    size: 10MB
    compression: 9
  - output: /abs/shards.zip
    strategy: x
    size: 1M
    shards: 20
  - output: nested/deep.zip
    strategy: recursive
    size: 1KB
    depth: 6
  - output: slip.zip
    strategy: slip
    names: ["../../etc/passwd", "..\\..\\boot.ini"]
`)
	plan, err := LoadPlan(path)
	if err != nil {
		t.Fatalf("LoadPlan() error = %v", err)
	}
	if len(plan.Jobs) != 4 {
		t.Fatalf("jobs = %d, want 4", len(plan.Jobs))
	}

	dir := filepath.Dir(path)
	want := []generator.GenerationRequest{
		{Strategy: generator.Traditional, OutputPath: filepath.Join(dir, "flat.zip"), PayloadSize: 10 * generator.MB, CompressionLevel: 9, ShardCount: DefaultShards, RecursionDepth: DefaultDepth},
		{Strategy: generator.Sharded, OutputPath: "/abs/shards.zip", PayloadSize: generator.MB, CompressionLevel: 1, ShardCount: 20, RecursionDepth: DefaultDepth},
		{Strategy: generator.Recursive, OutputPath: filepath.Join(dir, "nested", "deep.zip"), PayloadSize: generator.KB, CompressionLevel: 1, ShardCount: DefaultShards, RecursionDepth: 6},
		{Strategy: generator.Slip, OutputPath: filepath.Join(dir, "slip.zip"), CompressionLevel: 1, ShardCount: DefaultShards, RecursionDepth: DefaultDepth, TraversalNames: []string{"../../etc/passwd", `..\..\boot.ini`}},
	}
	for i, job := range plan.Jobs {
		got, err := job.Request(dir)
		if err != nil {
			t.Fatalf("job %d Request() error = %v", i, err)
		}
		if !reflect.DeepEqual(got, want[i]) {
			t.Fatalf("job %d Request() = %+v, want %+v", i, got, want[i])
		}
		if err := got.Validate(generator.DefaultLimits()); err != nil {
			t.Fatalf("job %d Validate() error = %v", i, err)
		}
	}
}

func TestLoadPlanRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty", body: ""},
		{name: "no jobs", body: "jobs: []\n"},
		{name: "unknown key", body: "jobs:\n  - output: a.zip\n    strategy: traditional\n    level: 3\n"},
		{name: "unknown strategy", body: "jobs:\n  - output: a.zip\n    strategy: tarpit\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadPlan(writePlan(t, tt.body)); err == nil {
				t.Fatal("LoadPlan() error = nil")
			}
		})
	}
}

func TestPlanExplicitZeros(t *testing.T) {
	path := writePlan(t, `
jobs:
  - output: shards.zip
    strategy: sharded
    size: 1KB
    shards: 0
  - output: deep.zip
    strategy: recursive
    size: 1KB
    depth: 0
`)
	plan, err := LoadPlan(path)
	if err != nil {
		t.Fatalf("LoadPlan() error = %v", err)
	}

	wantField := []string{"shard_count", "recursion_depth"}
	for i, job := range plan.Jobs {
		req, err := job.Request(filepath.Dir(path))
		if err != nil {
			t.Fatalf("job %d Request() error = %v", i, err)
		}
		if req.ShardCount != 0 && req.RecursionDepth != 0 {
			t.Fatalf("job %d Request() = %+v, explicit zero was replaced", i, req)
		}
		var cfgErr *generator.ConfigError
		if err := req.Validate(generator.DefaultLimits()); !errors.As(err, &cfgErr) || cfgErr.Field != wantField[i] {
			t.Fatalf("job %d Validate() error = %v, want %s", i, err, wantField[i])
		}
	}
}

func TestJobRequestErrors(t *testing.T) {
	if _, err := (Job{Strategy: generator.Traditional, Size: "1K"}).Request(""); err == nil {
		t.Fatal("Request() without output succeeded")
	}
	_, err := Job{Output: "a.zip", Strategy: generator.Traditional, Size: "huge"}.Request("")
	if !errors.Is(err, generator.ErrConfiguration) {
		t.Fatalf("Request() error = %v, want ErrConfiguration", err)
	}

	zero := 0
	req, err := Job{Output: "a.zip", Strategy: generator.Traditional, Size: "1K", Compression: &zero}.Request("")
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if req.CompressionLevel != 0 || req.OutputPath != "a.zip" {
		t.Fatalf("Request() = %+v", req)
	}
	if err := req.Validate(generator.DefaultLimits()); !errors.Is(err, generator.ErrConfiguration) {
		t.Fatalf("Validate() error = %v, want ErrConfiguration", err)
	}
}
