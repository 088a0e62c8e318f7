// Package config resolves benchmark settings from flags, HISTBENCH_*
// environment variables, an optional .env file, and an optional config file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/internal/harness"
	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/pkg/vcs"
)

const EnvPrefix = "HISTBENCH"

// Configuration keys. Flag names match.
const (
	KeyServer         = "server"
	KeyTransport      = "transport"
	KeyProtoJSON      = "proto-json"
	KeyUser           = "user"
	KeyPassword       = "password"
	KeyPaths          = "paths"
	KeyPathsFile      = "paths-file"
	KeyRepetitions    = "repetitions"
	KeyConcurrency    = "concurrency"
	KeyRunTimeout     = "run-timeout"
	KeyRepeatPause    = "repeat-pause"
	KeyStrategies     = "strategies"
	KeyConnectTimeout = "connect-timeout"
	KeyMetricsAddr    = "metrics-addr"
	KeyOtelEnabled    = "otel-enabled"
	KeyOtelEndpoint   = "otel-endpoint"
	KeyDetail         = "detail"
)

// NewViper returns a Viper instance layered over the environment. envFiles
// are loaded into the process environment first; without any, a .env in the
// working directory is loaded if present. Existing variables are not
// overridden.
func NewViper(cfgFile string, envFiles ...string) (*viper.Viper, error) {
	if len(envFiles) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyTransport, vcs.TransportHTTP)
	v.SetDefault(KeyRepetitions, harness.DefaultRepetitions)
	v.SetDefault(KeyConcurrency, 0)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		slog.Info("using config file", "path", v.ConfigFileUsed())
	}
	return v, nil
}

// Bench is the resolved configuration of a benchmark run.
type Bench struct {
	Server         string
	Transport      string
	ProtoJSON      bool
	User           string
	Password       string
	Paths          []string
	Repetitions    int
	Concurrency    int
	RunTimeout     time.Duration
	RepeatPause    time.Duration
	ConnectTimeout time.Duration
	Strategies     []harness.Strategy
	MetricsAddr    string
	OtelEnabled    bool
	OtelEndpoint   string
	Detail         bool
}

// Load resolves and validates a Bench from v. Every failure is a
// *harness.ConfigError.
func Load(v *viper.Viper) (*Bench, error) {
	b := &Bench{
		Server:         strings.TrimSpace(v.GetString(KeyServer)),
		Transport:      strings.ToLower(strings.TrimSpace(v.GetString(KeyTransport))),
		ProtoJSON:      v.GetBool(KeyProtoJSON),
		User:           v.GetString(KeyUser),
		Password:       v.GetString(KeyPassword),
		Paths:          stringList(v, KeyPaths),
		Repetitions:    v.GetInt(KeyRepetitions),
		Concurrency:    v.GetInt(KeyConcurrency),
		RunTimeout:     v.GetDuration(KeyRunTimeout),
		RepeatPause:    v.GetDuration(KeyRepeatPause),
		ConnectTimeout: v.GetDuration(KeyConnectTimeout),
		MetricsAddr:    strings.TrimSpace(v.GetString(KeyMetricsAddr)),
		OtelEnabled:    v.GetBool(KeyOtelEnabled),
		OtelEndpoint:   strings.TrimSpace(v.GetString(KeyOtelEndpoint)),
		Detail:         v.GetBool(KeyDetail),
	}

	if file := strings.TrimSpace(v.GetString(KeyPathsFile)); file != "" {
		m, err := ReadPathsFile(file)
		if err != nil {
			return nil, err
		}
		b.Paths = append(b.Paths, m.Paths...)
		if b.Server == "" {
			b.Server = m.Server
		}
	}
	if b.Server == "" {
		return nil, &harness.ConfigError{Field: KeyServer, Msg: "no service endpoint configured"}
	}

	strategies, err := harness.ParseStrategies(stringList(v, KeyStrategies))
	if err != nil {
		return nil, err
	}
	b.Strategies = strategies

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bench) Validate() error {
	if err := ValidateEndpoint(b.Server); err != nil {
		return err
	}
	switch b.Transport {
	case vcs.TransportHTTP, vcs.TransportRPC:
	default:
		return &harness.ConfigError{Field: KeyTransport, Msg: fmt.Sprintf("unknown transport %q (expected http or rpc)", b.Transport)}
	}
	if b.ConnectTimeout < 0 {
		return &harness.ConfigError{Field: KeyConnectTimeout, Msg: "must not be negative"}
	}
	return b.HarnessConfig().Validate()
}

// ValidateEndpoint checks that raw is an absolute http or https URL.
func ValidateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &harness.ConfigError{Field: KeyServer, Msg: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &harness.ConfigError{Field: KeyServer, Msg: fmt.Sprintf("%q: scheme must be http or https", raw)}
	}
	if u.Host == "" {
		return &harness.ConfigError{Field: KeyServer, Msg: fmt.Sprintf("%q: missing host", raw)}
	}
	return nil
}

func (b *Bench) HarnessConfig() harness.Config {
	return harness.Config{
		Paths:       b.Paths,
		Repetitions: b.Repetitions,
		Concurrency: b.Concurrency,
		RunTimeout:  b.RunTimeout,
		RepeatPause: b.RepeatPause,
		Strategies:  b.Strategies,
	}
}

func (b *Bench) ConnectorOptions() vcs.Options {
	return vcs.Options{
		URL:       b.Server,
		Transport: b.Transport,
		Username:  b.User,
		Password:  b.Password,
		Timeout:   b.ConnectTimeout,
		ProtoJSON: b.ProtoJSON,
	}
}

// Connector builds the gateway connector for b.
func (b *Bench) Connector() (vcs.Connector, error) {
	c, err := vcs.NewConnector(b.ConnectorOptions())
	if err != nil {
		return nil, &harness.ConfigError{Field: KeyTransport, Msg: err.Error()}
	}
	return c, nil
}

// stringList reads a list that may arrive as a slice (flags, config file)
// or as a comma-separated string (environment).
func stringList(v *viper.Viper, key string) []string {
	var raw []string
	switch x := v.Get(key).(type) {
	case nil:
	case string:
		raw = strings.Split(x, ",")
	case []string:
		raw = x
	case []any:
		for _, e := range x {
			raw = append(raw, fmt.Sprint(e))
		}
	default:
		raw = v.GetStringSlice(key)
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
