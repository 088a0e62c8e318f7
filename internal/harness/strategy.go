package harness

import (
	"fmt"
	"sort"
	"strings"
)

// Strategy is a client-allocation pattern under test.
type Strategy int

const (
	// ParallelPreAlloc connects once per path before the timer starts.
	ParallelPreAlloc Strategy = iota
	// ParallelOnDemand connects inside each timed task.
	ParallelOnDemand
	// ParallelShared connects once and shares the handle across all tasks.
	ParallelShared
	// Serial connects once and queries paths one after another.
	Serial
)

var strategyNames = [...]struct{ display, key string }{
	ParallelPreAlloc: {"Parallel Pre-Alloc", "pre-alloc"},
	ParallelOnDemand: {"Parallel Alloc OnDemand", "on-demand"},
	ParallelShared:   {"Parallel SameClient", "shared"},
	Serial:           {"Serial", "serial"},
}

func (s Strategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
	return strategyNames[s].display
}

// Key is the command-line name of s.
func (s Strategy) Key() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return ""
	}
	return strategyNames[s].key
}

func (s Strategy) parallel() bool {
	return s != Serial
}

// AllStrategies returns every strategy in report order.
func AllStrategies() []Strategy {
	return []Strategy{ParallelPreAlloc, ParallelOnDemand, ParallelShared, Serial}
}

// ParseStrategy accepts a key or a display name, case-insensitively.
func ParseStrategy(name string) (Strategy, error) {
	name = strings.TrimSpace(name)
	for i, n := range strategyNames {
		if strings.EqualFold(name, n.key) || strings.EqualFold(name, n.display) {
			return Strategy(i), nil
		}
	}
	return 0, &ConfigError{Field: "strategies", Msg: fmt.Sprintf("unknown strategy %q (expected pre-alloc, on-demand, shared, serial)", name)}
}

// ParseStrategies parses a list of keys into a duplicate-free list in
// report order.
func ParseStrategies(names []string) ([]Strategy, error) {
	seen := map[Strategy]bool{}
	var out []Strategy
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		s, err := ParseStrategy(n)
		if err != nil {
			return nil, err
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
