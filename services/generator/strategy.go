package generator

import (
	"fmt"
	"strings"
)

// Strategy selects how an archive is assembled.
type Strategy int

const (
	// StrategyNone is the zero value and never valid.
	StrategyNone Strategy = iota
	// Traditional writes one highly compressible member.
	Traditional
	// Sharded writes the same payload as many independently compressed members.
	Sharded
	// Recursive nests archives inside archives down to a payload member.
	Recursive
	// Slip writes empty members whose names carry path traversal sequences.
	Slip
)

var strategyNames = map[Strategy]string{
	Traditional: "traditional",
	Sharded:     "sharded",
	Recursive:   "recursive",
	Slip:        "slip",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// Valid reports whether s names one of the four strategies.
func (s Strategy) Valid() bool {
	_, ok := strategyNames[s]
	return ok
}

func (s Strategy) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown strategy %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStrategy accepts a strategy name or one of its short aliases.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "traditional", "t":
		return Traditional, nil
	case "sharded", "shard", "x":
		return Sharded, nil
	case "recursive", "r":
		return Recursive, nil
	case "slip", "zip-slip", "s":
		return Slip, nil
	default:
		return StrategyNone, configError("strategy", "unknown strategy %q", name)
	}
}

// Selection is the set of mode switches a caller raised. Exactly one must
// be set.
type Selection struct {
	Traditional bool
	Sharded     bool
	Recursive   bool
	Slip        bool
}

// Strategy resolves the selection to a single strategy.
func (s Selection) Strategy() (Strategy, error) {
	var selected []Strategy
	if s.Traditional {
		selected = append(selected, Traditional)
	}
	if s.Sharded {
		selected = append(selected, Sharded)
	}
	if s.Recursive {
		selected = append(selected, Recursive)
	}
	if s.Slip {
		selected = append(selected, Slip)
	}

	switch len(selected) {
	case 0:
		return StrategyNone, configError("strategy", "select a generation mode")
	case 1:
		return selected[0], nil
	default:
		names := make([]string, len(selected))
		for i, st := range selected {
			names[i] = st.String()
		}
		return StrategyNone, configError("strategy", "only one mode may be selected, got %s", strings.Join(names, ", "))
	}
}
