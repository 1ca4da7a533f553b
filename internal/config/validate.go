package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rileyhilliard/fleetwatch/internal/errors"
)

var valid = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their YAML key, which is what users edit.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the config and returns a structured error describing
// the first problem found.
func Validate(cfg *Config) error {
	if err := valid.Struct(cfg); err != nil {
		return describeValidation(err)
	}

	if !cfg.Feed.Insecure && cfg.Feed.CABundle != "" {
		if _, err := os.Stat(cfg.Feed.CABundle); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"feed.ca_bundle doesn't exist: "+cfg.Feed.CABundle,
				"Point it at a PEM file, or leave it empty to use the system roots")
		}
	}

	if !identPattern.MatchString(cfg.History.Table) {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("history.table '%s' isn't a valid table name", cfg.History.Table),
			"Use letters, digits and underscores only")
	}

	for _, pattern := range cfg.Cluster.Include {
		if strings.TrimSpace(pattern) == "" {
			return errors.New(errors.ErrConfig,
				"cluster.include has an empty pattern",
				"Remove the empty entry or use '*' to include everything")
		}
	}

	if !strings.Contains(cfg.Remote.UsageCommand, "{uri}") && !strings.Contains(cfg.Remote.UsageCommand, "{name}") {
		return errors.New(errors.ErrConfig,
			"remote.usage_command doesn't reference the cluster",
			"Include {uri} or {name}, e.g. 'pw ssh {uri} show_usage'")
	}
	if !strings.Contains(cfg.Remote.QueueCommand, "{uri}") && !strings.Contains(cfg.Remote.QueueCommand, "{name}") {
		return errors.New(errors.ErrConfig,
			"remote.queue_command doesn't reference the cluster",
			"Include {uri} or {name}, e.g. 'pw ssh {uri} show_queues'")
	}

	return nil
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) || len(verrs) == 0 {
		return errors.WrapWithCode(err, errors.ErrConfig, "Invalid configuration", "")
	}

	fe := verrs[0]
	key := fe.Namespace()
	if i := strings.Index(key, "."); i >= 0 {
		key = key[i+1:]
	}

	rule := fe.Tag()
	if fe.Param() != "" {
		rule += "=" + fe.Param()
	}
	return errors.WrapWithCode(err, errors.ErrConfig,
		fmt.Sprintf("Invalid %s: %v", key, fe.Value()),
		suggestionFor(fe.Tag(), fe.Param(), rule))
}

func suggestionFor(tag, param, rule string) string {
	switch tag {
	case "required":
		return "This setting can't be empty"
	case "hostname_port":
		return "Use host:port, e.g. 0.0.0.0:8080"
	case "oneof":
		return "Must be one of: " + strings.ReplaceAll(param, " ", ", ")
	case "url":
		return "Use a full URL, e.g. https://example.com/status.html"
	case "gt", "gte":
		return "Use a positive duration like 30s or 2m"
	case "startswith":
		return "Must start with " + param
	}
	return "Failed rule " + rule
}
