package doctor

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rileyhilliard/fleetwatch/internal/errors"
)

// ConfigCheck reports the result of loading the configuration. The
// caller loads it; the check only classifies the outcome.
type ConfigCheck struct {
	// Path is the file that was loaded, empty when running on defaults.
	Path string
	Err  error
}

func (c *ConfigCheck) Name() string     { return "config_file" }
func (c *ConfigCheck) Category() string { return "CONFIG" }

func (c *ConfigCheck) Run(context.Context) CheckResult {
	if c.Err != nil {
		return failure(c.Err, "Fix the config file, then run fleetwatch doctor again")
	}
	if c.Path == "" {
		return CheckResult{
			Status:     StatusWarn,
			Message:    "No config file found, using defaults",
			Suggestion: "Write one with: fleetwatch config > fleetwatch.yaml",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("Config loaded from %s", c.Path),
	}
}

// WritablePathCheck verifies that a file can be created next to Path.
// Missing parent directories are created, as the writers do.
type WritablePathCheck struct {
	ID    string
	Label string
	Path  string
}

func (c *WritablePathCheck) Name() string     { return c.ID }
func (c *WritablePathCheck) Category() string { return "STORAGE" }

func (c *WritablePathCheck) Run(context.Context) CheckResult {
	dir := filepath.Dir(c.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return CheckResult{
			Status:     StatusFail,
			Message:    fmt.Sprintf("%s: can't create %s", c.Label, dir),
			Suggestion: "Check permissions or choose another path",
		}
	}
	f, err := os.CreateTemp(dir, ".fleetwatch-doctor-*")
	if err != nil {
		return CheckResult{
			Status:     StatusFail,
			Message:    fmt.Sprintf("%s: %s is not writable", c.Label, dir),
			Suggestion: "Check permissions or choose another path",
		}
	}
	name := f.Name()
	f.Close()
	os.Remove(name)

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s: %s", c.Label, c.Path),
	}
}

// DirExistsCheck warns when a directory that should be populated in
// advance is missing.
type DirExistsCheck struct {
	ID         string
	Label      string
	Path       string
	Suggestion string
}

func (c *DirExistsCheck) Name() string     { return c.ID }
func (c *DirExistsCheck) Category() string { return "STORAGE" }

func (c *DirExistsCheck) Run(context.Context) CheckResult {
	info, err := os.Stat(c.Path)
	if err != nil || !info.IsDir() {
		return CheckResult{
			Status:     StatusWarn,
			Message:    fmt.Sprintf("%s: %s not found", c.Label, c.Path),
			Suggestion: c.Suggestion,
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s: %s", c.Label, c.Path),
	}
}

// failure turns err into a failed result, preferring the suggestion
// carried by a structured error.
func failure(err error, fallback string) CheckResult {
	res := CheckResult{
		Status:     StatusFail,
		Message:    errors.Summarize(err),
		Suggestion: fallback,
	}
	var fwErr *errors.Error
	if stderrors.As(err, &fwErr) && fwErr.Suggestion != "" {
		res.Suggestion = fwErr.Suggestion
	}
	return res
}
