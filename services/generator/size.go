package generator

import (
	"math/bits"
	"strconv"
	"strings"
)

// Binary size units.
const (
	KB uint64 = 1024
	MB        = 1024 * KB
	GB        = 1024 * MB
)

// SizeSpec holds one count per unit. Exactly one may be non-zero.
type SizeSpec struct {
	Bytes     uint64
	Kilobytes uint64
	Megabytes uint64
	Gigabytes uint64
}

// IsZero reports whether no unit was given.
func (s SizeSpec) IsZero() bool {
	return s == SizeSpec{}
}

// Resolve returns the size in bytes.
func (s SizeSpec) Resolve() (uint64, error) {
	type unit struct {
		count uint64
		mult  uint64
	}
	var set []unit
	for _, u := range []unit{{s.Bytes, 1}, {s.Kilobytes, KB}, {s.Megabytes, MB}, {s.Gigabytes, GB}} {
		if u.count != 0 {
			set = append(set, u)
		}
	}

	switch len(set) {
	case 0:
		return 0, configError("payload_size", "a size is required")
	case 1:
	default:
		return 0, configError("payload_size", "only one size unit may be given")
	}
	return multiply("payload_size", set[0].count, set[0].mult)
}

var sizeSuffixes = []struct {
	suffix string
	mult   uint64
}{
	{"KIB", KB}, {"MIB", MB}, {"GIB", GB},
	{"KB", KB}, {"MB", MB}, {"GB", GB},
	{"K", KB}, {"M", MB}, {"G", GB},
	{"B", 1},
}

// ParseSize parses sizes such as "512", "64KB", "10M" or "2GiB". Units are
// binary multiples.
func ParseSize(value string) (uint64, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(value))
	if trimmed == "" {
		return 0, configError("payload_size", "size is empty")
	}

	mult := uint64(1)
	for _, s := range sizeSuffixes {
		if strings.HasSuffix(trimmed, s.suffix) {
			mult = s.mult
			trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, s.suffix))
			break
		}
	}

	count, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, configError("payload_size", "invalid size %q", value)
	}
	return multiply("payload_size", count, mult)
}

func multiply(field string, a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, configError(field, "%d x %d overflows", a, b)
	}
	return lo, nil
}
