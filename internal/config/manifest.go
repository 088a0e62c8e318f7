package config

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/internal/harness"
)

// Manifest lists the paths a benchmark queries.
type Manifest struct {
	Server      string    `json:"server,omitempty"`
	Paths       []string  `json:"paths"`
	GeneratedAt time.Time `json:"generated_at,omitempty"`
}

const manifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["paths"],
  "properties": {
    "server": {"type": "string", "pattern": "^https?://"},
    "paths": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    },
    "generated_at": {"type": "string", "format": "date-time"}
  },
  "additionalProperties": false
}`

var manifestSchemaLoader = gojsonschema.NewStringLoader(manifestSchema)

// ParseManifest validates data against the manifest schema and decodes it.
func ParseManifest(data []byte) (*Manifest, error) {
	res, err := gojsonschema.Validate(manifestSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, &harness.ConfigError{Field: "manifest", Msg: err.Error()}
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, item := range res.Errors() {
			msgs = append(msgs, fmt.Sprintf("%s: %s", item.Field(), item.Description()))
		}
		return nil, &harness.ConfigError{Field: "manifest", Msg: strings.Join(msgs, "; ")}
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &harness.ConfigError{Field: "manifest", Msg: err.Error()}
	}
	return &m, nil
}

func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &harness.ConfigError{Field: KeyPathsFile, Msg: err.Error()}
	}
	return ParseManifest(data)
}

// ReadPathsFile reads a JSON manifest, or a text file with one path per line
// where blank lines and lines starting with # are ignored.
func ReadPathsFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &harness.ConfigError{Field: KeyPathsFile, Msg: err.Error()}
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return ParseManifest(data)
	}
	m := &Manifest{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m.Paths = append(m.Paths, line)
	}
	if err := sc.Err(); err != nil {
		return nil, &harness.ConfigError{Field: KeyPathsFile, Msg: err.Error()}
	}
	return m, nil
}

// WriteManifest writes m as indented JSON, creating parent directories.
func WriteManifest(path string, m *Manifest) error {
	if m.Paths == nil {
		m.Paths = []string{}
	}
	if m.GeneratedAt.IsZero() {
		m.GeneratedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
