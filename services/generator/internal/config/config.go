package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"thermobaric/services/generator"
)

const defaultNATSSubject = "thermobaric.generation"

// Config is the environment-supplied runtime configuration. Flags given on
// the command line take precedence over it.
type Config struct {
	AdvisoryBytes uint64
	MaxDepth      int
	WorkDir       string
	NATSURL       string
	NATSSubject   string
	MetricsFile   string
	Quiet         bool
}

func Load() (Config, error) {
	cfg := Config{
		AdvisoryBytes: generator.DefaultAdvisoryBytes,
		MaxDepth:      generator.DefaultMaxDepth,
	}

	if v := strings.TrimSpace(os.Getenv("THERMOBARIC_ADVISORY_BYTES")); v != "" {
		n, err := generator.ParseSize(v)
		if err != nil || n == 0 {
			return Config{}, fmt.Errorf("invalid THERMOBARIC_ADVISORY_BYTES: %q", v)
		}
		cfg.AdvisoryBytes = n
	}
	depth, err := getEnvInt("THERMOBARIC_MAX_DEPTH", generator.DefaultMaxDepth)
	if err != nil {
		return Config{}, err
	}
	if depth < 2 {
		return Config{}, fmt.Errorf("THERMOBARIC_MAX_DEPTH must be at least 2, got %d", depth)
	}
	cfg.MaxDepth = depth

	cfg.WorkDir = os.Getenv("THERMOBARIC_WORK_DIR")
	cfg.NATSURL = os.Getenv("THERMOBARIC_NATS_URL")
	cfg.NATSSubject = getEnv("THERMOBARIC_NATS_SUBJECT", defaultNATSSubject)
	cfg.MetricsFile = os.Getenv("THERMOBARIC_METRICS_FILE")

	quiet, err := getEnvBool("THERMOBARIC_LOG_QUIET", false)
	if err != nil {
		return Config{}, err
	}
	cfg.Quiet = quiet

	return cfg, nil
}

// Limits returns the generator thresholds carried by cfg.
func (c Config) Limits() generator.Limits {
	return generator.Limits{AdvisoryBytes: c.AdvisoryBytes, MaxDepth: c.MaxDepth}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", key, v)
	}
	return b, nil
}

func getEnvInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return i, nil
}
