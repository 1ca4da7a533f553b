package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rileyhilliard/fleetwatch/internal/errors"
)

const (
	// ConfigFileName is the config file looked up in the working directory.
	ConfigFileName = "fleetwatch.yaml"
	// GlobalConfigDir is the directory for the per-user config.
	GlobalConfigDir = ".config/fleetwatch"
	// GlobalConfigFile is the per-user config file name.
	GlobalConfigFile = "config.yaml"
	// EnvPrefix prefixes environment overrides, e.g. FLEETWATCH_SERVER_ADDR.
	EnvPrefix = "FLEETWATCH"
)

// LoadOptions controls where configuration comes from. Precedence, highest
// first: changed flags, environment, config file, defaults.
type LoadOptions struct {
	// Path is an explicit config file (--config). Empty means search.
	Path string

	// Command supplies flags; FlagKeys maps flag names to config keys.
	Command  *cobra.Command
	FlagKeys map[string]string
}

// Find locates the config file using the search order:
// 1. Explicit path (from --config flag)
// 2. fleetwatch.yaml in the current directory
// 3. ~/.config/fleetwatch/config.yaml
//
// Returns the path to the config file, or empty string if not found.
func Find(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified config file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access config file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	if _, err := os.Stat(ConfigFileName); err == nil {
		abs, absErr := filepath.Abs(ConfigFileName)
		if absErr != nil {
			return ConfigFileName, nil
		}
		return abs, nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		global := filepath.Join(home, GlobalConfigDir, GlobalConfigFile)
		if _, err := os.Stat(global); err == nil {
			return global, nil
		}
	}

	return "", nil
}

// Load resolves, normalizes and validates the configuration. It returns
// the config file used, or "" when running on defaults.
func Load(opts LoadOptions) (*Config, string, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	path, err := Find(opts.Path)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to read config file",
				"Check "+path+" exists and is valid YAML")
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Command != nil {
		for name, key := range opts.FlagKeys {
			f := opts.Command.Flags().Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, "", errors.WrapWithCode(err, errors.ErrConfig,
					"Couldn't bind flag --"+name,
					"This is a bug in fleetwatch, please report it")
			}
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, "", errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Durations look like 90s or 2m, lists are YAML sequences or comma-separated")
	}

	cfg.Normalize()
	if err := Validate(cfg); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHook(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, err
	}
	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsToDurationHook reads bare numbers as seconds, so "interval: 120"
// means two minutes rather than 120ns.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if to != durationType || from == durationType {
			return data, nil
		}
		switch n := data.(type) {
		case int:
			return time.Duration(n) * time.Second, nil
		case int64:
			return time.Duration(n) * time.Second, nil
		case uint64:
			return time.Duration(n) * time.Second, nil
		case float64:
			return time.Duration(n * float64(time.Second)), nil
		}
		return data, nil
	}
}

// setDefaults registers every leaf of the default config with viper, so
// AutomaticEnv can see every key.
func setDefaults(v *viper.Viper, cfg *Config) {
	walk(reflect.ValueOf(cfg).Elem(), "mapstructure", "", func(key string, val reflect.Value) {
		v.SetDefault(key, val.Interface())
	})
}

// walk visits every non-struct field, building dotted keys from the
// given struct tag.
func walk(rv reflect.Value, tag, prefix string, fn func(key string, val reflect.Value)) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		name := strings.SplitN(field.Tag.Get(tag), ",", 2)[0]
		if name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		fv := rv.Field(i)
		if fv.Kind() == reflect.Struct && fv.Type() != durationType {
			walk(fv, tag, key, fn)
			continue
		}
		fn(key, fv)
	}
}

// Normalize clamps cadences and cleans up paths. Load calls it.
func (c *Config) Normalize() {
	if c.Cluster.Interval < MinInterval {
		c.Cluster.Interval = MinInterval
	}
	if c.Feed.Interval < MinInterval {
		c.Feed.Interval = MinInterval
	}
	c.Server.URLPrefix = NormalizePrefix(c.Server.URLPrefix)
	c.Server.PublicDir = ExpandPath(c.Server.PublicDir)
	c.Cluster.SnapshotPath = ExpandPath(c.Cluster.SnapshotPath)
	c.Feed.OutputPath = ExpandPath(c.Feed.OutputPath)
	c.Feed.CABundle = ExpandPath(c.Feed.CABundle)
	c.Log.Dir = ExpandPath(c.Log.Dir)
	if c.Cluster.Include == nil {
		c.Cluster.Include = []string{}
	}
}

// NormalizePrefix returns prefix with a leading slash and no trailing
// slash, or "" for the root.
func NormalizePrefix(prefix string) string {
	p := strings.TrimRight(strings.TrimSpace(prefix), "/")
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
