package generator

import "math/bits"

const (
	// DefaultAdvisoryBytes is the payload size above which a resource
	// advisory is raised. The threshold is empirical.
	DefaultAdvisoryBytes = 25 * GB
	// DefaultMaxDepth is the deepest recursive chain accepted. The ceiling
	// is empirical.
	DefaultMaxDepth = 975

	// MinCompressionLevel and MaxCompressionLevel bound the deflate effort.
	MinCompressionLevel = 1
	MaxCompressionLevel = 9

	minRecursionDepth = 2
)

// Limits are the tunable safety thresholds applied to every request.
type Limits struct {
	// AdvisoryBytes raises a resource advisory when exceeded. Zero uses
	// DefaultAdvisoryBytes.
	AdvisoryBytes uint64
	// MaxDepth rejects deeper recursive requests. Zero uses DefaultMaxDepth.
	MaxDepth int
}

// DefaultLimits returns the stock thresholds.
func DefaultLimits() Limits {
	return Limits{AdvisoryBytes: DefaultAdvisoryBytes, MaxDepth: DefaultMaxDepth}
}

func (l Limits) withDefaults() Limits {
	if l.AdvisoryBytes == 0 {
		l.AdvisoryBytes = DefaultAdvisoryBytes
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = DefaultMaxDepth
	}
	return l
}

// GenerationRequest is everything one generation needs. Fields that do not
// apply to the chosen strategy are ignored.
type GenerationRequest struct {
	PayloadSize      uint64
	CompressionLevel int
	OutputPath       string
	Strategy         Strategy

	// ShardCount is used by Sharded.
	ShardCount int
	// RecursionDepth is used by Recursive and counts the output archive
	// itself, so depth 2 is one archive inside another.
	RecursionDepth int
	// TraversalNames is used by Slip; names are written verbatim.
	TraversalNames []string
}

// Validate checks the request against limits. It touches no files.
func (r GenerationRequest) Validate(limits Limits) error {
	limits = limits.withDefaults()

	if r.OutputPath == "" {
		return configError("output_path", "must not be empty")
	}
	if r.CompressionLevel < MinCompressionLevel || r.CompressionLevel > MaxCompressionLevel {
		return configError("compression_level", "must be between %d and %d, got %d",
			MinCompressionLevel, MaxCompressionLevel, r.CompressionLevel)
	}
	if !r.Strategy.Valid() {
		return configError("strategy", "select a generation mode")
	}
	if r.Strategy != Slip && r.PayloadSize == 0 {
		return configError("payload_size", "must be greater than zero")
	}

	switch r.Strategy {
	case Sharded:
		if r.ShardCount <= 0 {
			return configError("shard_count", "must be positive, got %d", r.ShardCount)
		}
		if hi, _ := bits.Mul64(r.PayloadSize, uint64(r.ShardCount)); hi != 0 {
			return configError("shard_count", "%d shards of %d bytes overflows", r.ShardCount, r.PayloadSize)
		}
	case Recursive:
		if r.RecursionDepth < minRecursionDepth {
			return configError("recursion_depth", "must be at least %d, got %d", minRecursionDepth, r.RecursionDepth)
		}
		if r.RecursionDepth > limits.MaxDepth {
			return &ConfigError{
				Field:  "recursion_depth",
				Reason: fmtLimit(r.RecursionDepth, limits.MaxDepth),
				Err:    ErrRecursionLimit,
			}
		}
	case Slip:
		if len(r.TraversalNames) == 0 {
			return configError("traversal_names", "at least one name is required")
		}
	}
	return nil
}

// ExpandedSize is the number of payload bytes a full extraction yields.
func (r GenerationRequest) ExpandedSize() uint64 {
	switch r.Strategy {
	case Traditional, Recursive:
		return r.PayloadSize
	case Sharded:
		return r.PayloadSize * uint64(r.ShardCount)
	default:
		return 0
	}
}
