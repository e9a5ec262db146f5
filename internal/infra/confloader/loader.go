package confloader

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the default environment variable prefix.
const DefaultEnvPrefix = "SNAPMESH_"

// Loader layers a YAML file and environment variables over the values
// already in the target struct.
type Loader struct {
	envPrefix string
	filePath  string
	strict    bool
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile sets the YAML file to load. An empty path loads no file.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// WithStrict rejects file keys that match no koanf tag of the target.
// Environment variables are never checked: the prefix is shared with
// variables that are not configuration, such as SNAPMESH_CONFIG.
func WithStrict() Option {
	return func(l *Loader) {
		l.strict = true
	}
}

// NewLoader creates a loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load fills target, a pointer to a struct with koanf tags. Later sources
// override earlier ones:
//  1. values already in target (defaults)
//  2. the YAML file
//  3. environment variables
func (l *Loader) Load(target any) error {
	k := koanf.New(".")

	if l.filePath != "" {
		fk := koanf.New(".")
		if err := fk.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return fmt.Errorf("load config file %s: %w", l.filePath, err)
		}
		if l.strict {
			if unknown := UnknownKeys(fk.Keys(), target); len(unknown) > 0 {
				return fmt.Errorf("config file %s: unknown keys: %s", l.filePath, strings.Join(unknown, ", "))
			}
		}
		if err := k.Merge(fk); err != nil {
			return fmt.Errorf("merge config file: %w", err)
		}
	}

	// A double underscore separates sections so keys may keep single
	// underscores: SNAPMESH_SUBNET__MEMORY_CAPACITY -> subnet.memory_capacity.
	prefix := l.envPrefix
	envKey := func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, prefix))
		return strings.ReplaceAll(s, "__", ".")
	}
	if err := k.Load(env.Provider(prefix, ".", envKey), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}

	if err := k.UnmarshalWithConf("", target, unmarshalConf()); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// unmarshalConf is koanf's default decoding plus comma splitting, so a
// list set from the environment ("10.0.0.1,10.0.0.2") fills a slice.
func unmarshalConf() koanf.UnmarshalConf {
	return koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			WeaklyTypedInput: true,
		},
	}
}

// UnknownKeys returns the keys, sorted, that name no field of target.
// A key under a slice or map field counts as known.
func UnknownKeys(keys []string, target any) []string {
	known := make(map[string]bool)
	collectKeys(reflect.TypeOf(target), "", known)

	var out []string
	for _, key := range keys {
		if !isKnown(key, known) {
			out = append(out, key)
		}
	}
	slices.Sort(out)
	return out
}

func isKnown(key string, known map[string]bool) bool {
	if _, ok := known[key]; ok {
		return true
	}
	for {
		i := strings.LastIndexByte(key, '.')
		if i < 0 {
			return false
		}
		key = key[:i]
		if container, ok := known[key]; ok {
			return container
		}
	}
}

// collectKeys records every koanf path of t. The value is true for slices
// and maps, whose sub-keys are not checked.
func collectKeys(t reflect.Type, prefix string, known map[string]bool) {
	if t == nil {
		return
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}

		ft := f.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		switch {
		case ft.Kind() == reflect.Struct && !isLeafStruct(ft):
			known[path] = false
			collectKeys(ft, path, known)
		case ft.Kind() == reflect.Map || ft.Kind() == reflect.Slice:
			known[path] = true
		default:
			known[path] = false
		}
	}
}

// isLeafStruct reports struct types decoded from a scalar, such as
// time.Time.
func isLeafStruct(t reflect.Type) bool {
	return t.PkgPath() == "time"
}
