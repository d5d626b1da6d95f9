package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "ADAPTIVE_MEMORY_"
	// EnvNesting separates nested keys in environment variable names:
	// ADAPTIVE_MEMORY_RETRIEVAL__TOP_K sets retrieval.top_k.
	EnvNesting = "__"
	// Delimiter is the key delimiter for nested config.
	Delimiter = "."
)

// envAliases map flat environment names onto config keys.
var envAliases = map[string]string{
	"db": "storage.path",
}

// Loader reads configuration from layered sources.
type Loader struct {
	k *koanf.Koanf
}

// NewLoader creates a loader.
func NewLoader() *Loader {
	return &Loader{k: koanf.New(Delimiter)}
}

// Load merges, in increasing priority: defaults, the config file (or the
// first standard location found when path is empty), environment
// variables and overrides. The result is validated.
func (l *Loader) Load(path string, overrides map[string]any) (*Config, error) {
	if err := l.k.Load(confmap.Provider(structToMap(DefaultConfig(), ""), Delimiter), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = findDefaultFile()
	}
	if path != "" {
		if err := l.loadFile(path); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.k.Load(env.Provider(EnvPrefix, Delimiter, envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if len(overrides) > 0 {
		if err := l.k.Load(confmap.Provider(overrides, Delimiter), nil); err != nil {
			return nil, fmt.Errorf("apply overrides: %w", err)
		}
	}

	var cfg Config
	if err := l.k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "mapstructure"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Loader) loadFile(path string) error {
	var parser koanf.Parser
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return l.k.Load(file.Provider(path), parser)
}

// Print renders the merged configuration.
func (l *Loader) Print() string {
	return l.k.Sprint()
}

func findDefaultFile() string {
	candidates := []string{"adaptive-memory.yaml", "adaptive-memory.yml", "adaptive-memory.json"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".adaptive-memory", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// envKey turns ADAPTIVE_MEMORY_SERVER__RATE_LIMIT into server.rate_limit.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if alias, ok := envAliases[key]; ok {
		return alias
	}
	return strings.ReplaceAll(key, strings.ToLower(EnvNesting), Delimiter)
}

// structToMap flattens a struct into dot-separated mapstructure keys.
func structToMap(v any, prefix string) map[string]any {
	out := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return out
	}

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		key := field.Tag.Get("mapstructure")
		if !field.IsExported() || key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + Delimiter + key
		}
		fv := val.Field(i)
		if fv.Kind() == reflect.Struct && fv.Type() != reflect.TypeOf(time.Time{}) {
			for k, nested := range structToMap(fv.Interface(), key) {
				out[k] = nested
			}
			continue
		}
		out[key] = fv.Interface()
	}
	return out
}

// Load is a convenience wrapper around a fresh Loader.
func Load(path string, overrides map[string]any) (*Config, error) {
	return NewLoader().Load(path, overrides)
}
