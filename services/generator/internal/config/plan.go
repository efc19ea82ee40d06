package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"thermobaric/services/generator"
)

// Defaults applied to plan jobs that leave a field out. They match the
// command line defaults.
const (
	DefaultCompression = 1
	DefaultShards      = 5
	DefaultDepth       = 2
)

// Plan is a batch of generations read from YAML.
type Plan struct {
	Jobs []Job `yaml:"jobs"`
}

// Job is one plan entry. Size takes the forms accepted by
// generator.ParseSize. Pointer fields tell an explicit zero from an omitted
// key, so "shards: 0" is rejected rather than defaulted.
type Job struct {
	Output      string             `yaml:"output"`
	Strategy    generator.Strategy `yaml:"strategy"`
	Compression *int               `yaml:"compression,omitempty"`
	Size        string             `yaml:"size,omitempty"`
	Shards      *int               `yaml:"shards,omitempty"`
	Depth       *int               `yaml:"depth,omitempty"`
	Names       []string           `yaml:"names,omitempty"`
}

// LoadPlan reads and decodes the plan at path. Unknown keys are rejected.
func LoadPlan(path string) (*Plan, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plan: %w", err)
	}
	defer file.Close()

	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)

	var plan Plan
	if err := dec.Decode(&plan); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("plan %s is empty", path)
		}
		return nil, fmt.Errorf("decode plan %s: %w", path, err)
	}
	if len(plan.Jobs) == 0 {
		return nil, fmt.Errorf("plan %s has no jobs", path)
	}
	return &plan, nil
}

// Request resolves the job into a generation request. Relative outputs are
// taken relative to baseDir, normally the directory holding the plan.
func (j Job) Request(baseDir string) (generator.GenerationRequest, error) {
	req := generator.GenerationRequest{
		OutputPath:       j.Output,
		Strategy:         j.Strategy,
		CompressionLevel: DefaultCompression,
		ShardCount:       DefaultShards,
		RecursionDepth:   DefaultDepth,
		TraversalNames:   j.Names,
	}
	if j.Output == "" {
		return req, errors.New("output is required")
	}
	if !filepath.IsAbs(j.Output) && baseDir != "" {
		req.OutputPath = filepath.Join(baseDir, j.Output)
	}
	if j.Compression != nil {
		req.CompressionLevel = *j.Compression
	}
	if j.Shards != nil {
		req.ShardCount = *j.Shards
	}
	if j.Depth != nil {
		req.RecursionDepth = *j.Depth
	}
	if j.Size != "" {
		size, err := generator.ParseSize(j.Size)
		if err != nil {
			return req, err
		}
		req.PayloadSize = size
	}
	return req, nil
}
