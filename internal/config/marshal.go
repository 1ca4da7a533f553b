package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rileyhilliard/fleetwatch/internal/errors"
)

// Marshal renders cfg as YAML with human-readable durations, suitable as
// a config file.
func Marshal(cfg *Config) ([]byte, error) {
	root := map[string]interface{}{}
	walk(reflect.ValueOf(cfg).Elem(), "yaml", "", func(key string, val reflect.Value) {
		var out interface{} = val.Interface()
		if d, ok := out.(time.Duration); ok {
			out = d.String()
		}
		setPath(root, strings.Split(key, "."), out)
	})
	return yaml.Marshal(root)
}

func setPath(m map[string]interface{}, path []string, val interface{}) {
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			m[p] = next
		}
		m = next
	}
	m[path[len(path)-1]] = val
}

// Write saves cfg to path, creating parent directories.
func Write(cfg *Config, path string) error {
	data, err := Marshal(cfg)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't render config",
			"This is a bug in fleetwatch, please report it")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't create config directory",
			"Check permissions on "+filepath.Dir(path))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't write config file",
			"Check permissions on "+path)
	}
	return nil
}
