package harness

import (
	"errors"
	"fmt"
	"time"
)

const DefaultRepetitions = 5

// Config is the explicit input of a benchmark run.
type Config struct {
	// Paths are queried once per run, in this order for the serial strategy.
	Paths       []string
	Repetitions int
	// Concurrency bounds parallel tasks per run. Zero means one task per path.
	Concurrency int
	// RunTimeout bounds one run including its setup. Zero means none.
	RunTimeout  time.Duration
	RepeatPause time.Duration
	// Strategies to run. Empty means all.
	Strategies []Strategy
}

// DefaultConfig returns a Config for paths with the default repetition count.
func DefaultConfig(paths []string) Config {
	return Config{Paths: paths, Repetitions: DefaultRepetitions}
}

func (c Config) Validate() error {
	if c.Repetitions <= 0 {
		return &ConfigError{Field: "repetitions", Msg: fmt.Sprintf("must be positive, got %d", c.Repetitions)}
	}
	if c.Concurrency < 0 {
		return &ConfigError{Field: "concurrency", Msg: fmt.Sprintf("must not be negative, got %d", c.Concurrency)}
	}
	if c.RunTimeout < 0 {
		return &ConfigError{Field: "run-timeout", Msg: "must not be negative"}
	}
	if c.RepeatPause < 0 {
		return &ConfigError{Field: "repeat-pause", Msg: "must not be negative"}
	}
	for _, s := range c.Strategies {
		if s.Key() == "" {
			return &ConfigError{Field: "strategies", Msg: fmt.Sprintf("unknown strategy %d", int(s))}
		}
	}
	return nil
}

// ConfigError reports invalid benchmark input. It is always returned before
// any timed work starts.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
