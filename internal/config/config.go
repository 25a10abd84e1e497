// Package config loads workflow definitions from JSON, YAML or TOML files.
//
// A definition file looks like:
//
//	{
//	  "name": "shop",
//	  "servicesClassNameSpace": "shop",
//	  "storageAdapter": "sqlite",
//	  "storageConfig": {"dsn": "file:shop.db"},
//	  "brokerAdapter": "nats",
//	  "brokerConfig": {"host": "nats://127.0.0.1:4222"},
//	  "steps": [
//	    {"name": "fetch"},
//	    [{"name": "resize"}, {"name": "index"}]
//	  ]
//	}
//
// An object in "steps" is a single step; an array is a group of steps run in
// parallel.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/petrijr/disturb/internal/broker"
	"github.com/petrijr/disturb/internal/persistence"
	"github.com/petrijr/disturb/internal/topic"
	"github.com/petrijr/disturb/pkg/api"
)

var (
	ErrFileNotFound         = errors.New("workflow config file not found")
	ErrUnsupportedExtension = errors.New("unsupported workflow config file extension")
	ErrInvalid              = errors.New("invalid workflow config")
)

// Error reports a definition file that could not be loaded.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return "config: " + e.Err.Error()
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Extensions lists the accepted definition file extensions.
var Extensions = []string{".json", ".yaml", ".yml", ".toml"}

// ParserFor returns the koanf parser for path's extension, or nil.
func ParserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return yaml.Parser()
	case ".toml":
		return toml.Parser()
	case ".json":
		return json.Parser()
	default:
		return nil
	}
}

// Load reads and validates the definition stored at path.
func Load(path string) (*api.Definition, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("%w: %v", ErrFileNotFound, err)}
	}
	parser := ParserFor(path)
	if parser == nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("%w %q, expected one of %s",
			ErrUnsupportedExtension, filepath.Ext(path), strings.Join(Extensions, ", "))}
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("%w: %v", ErrInvalid, err)}
	}
	def, err := FromKoanf(k)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	return def, nil
}

// FromKoanf builds and validates a definition from already loaded keys.
func FromKoanf(k *koanf.Koanf) (*api.Definition, error) {
	def := &api.Definition{
		Name:              k.String("name"),
		ServicesNamespace: k.String("servicesClassNameSpace"),
		StorageAdapter:    k.String("storageAdapter"),
		StorageConfig:     section(k, "storageConfig"),
		BrokerAdapter:     k.String("brokerAdapter"),
		BrokerConfig:      section(k, "brokerConfig"),
	}
	if def.BrokerAdapter == "" {
		def.BrokerAdapter = broker.AdapterMemory
	}

	steps, err := parseSteps(k.Get("steps"))
	if err != nil {
		return nil, err
	}
	def.Steps = steps

	if err := Validate(def); err != nil {
		return nil, err
	}
	return def, nil
}

func section(k *koanf.Koanf, key string) map[string]any {
	if !k.Exists(key) {
		return map[string]any{}
	}
	return k.Cut(key).Raw()
}

func parseSteps(raw any) ([]api.StepGroup, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := asList(raw)
	if !ok {
		return nil, invalid("steps must be a list, got %T", raw)
	}
	groups := make([]api.StepGroup, 0, len(items))
	for i, item := range items {
		if obj, ok := asObject(item); ok {
			s, err := parseStep(obj)
			if err != nil {
				return nil, invalid("step %d: %v", i, err)
			}
			groups = append(groups, api.Single(s))
			continue
		}
		list, ok := asList(item)
		if !ok {
			return nil, invalid("step %d must be an object or a list of objects, got %T", i, item)
		}
		steps := make([]api.Step, 0, len(list))
		for j, el := range list {
			obj, ok := asObject(el)
			if !ok {
				return nil, invalid("step %d.%d must be an object, got %T", i, j, el)
			}
			s, err := parseStep(obj)
			if err != nil {
				return nil, invalid("step %d.%d: %v", i, j, err)
			}
			steps = append(steps, s)
		}
		groups = append(groups, api.Parallel(steps...))
	}
	return groups, nil
}

func parseStep(obj map[string]any) (api.Step, error) {
	name, _ := obj["name"].(string)
	if name == "" {
		return api.Step{}, errors.New("missing name")
	}
	return api.Step{Name: name}, nil
}

func asObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []map[string]any:
		out := make([]any, len(l))
		for i, m := range l {
			out[i] = m
		}
		return out, true
	}
	return nil, false
}

// Validate checks a definition built in code or loaded from a file.
func Validate(def *api.Definition) error {
	if def.Name == "" {
		return invalid("missing workflow name")
	}
	if err := topic.ValidateName(def.Name); err != nil {
		return invalid("workflow name: %v", err)
	}

	seen := make(map[string]bool)
	for i, g := range def.Steps {
		if len(g.Steps) == 0 {
			return invalid("step group %d is empty", i)
		}
		for _, s := range g.Steps {
			if err := topic.ValidateStep(s.Name); err != nil {
				return invalid("step group %d: %v", i, err)
			}
			if seen[s.Name] {
				return invalid("duplicate step name %q", s.Name)
			}
			seen[s.Name] = true
		}
	}

	if err := persistence.ValidateConfig(def.StorageAdapter, def.StorageConfig); err != nil {
		return invalid("storage: %v", err)
	}
	if err := broker.ValidateConfig(def.BrokerAdapter, def.BrokerConfig); err != nil {
		return invalid("broker: %v", err)
	}
	return nil
}
