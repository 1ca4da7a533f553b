// Package store persists snapshots: an atomically rewritten JSON file
// the dashboard reads directly, and an optional PostgreSQL history.
package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rileyhilliard/fleetwatch/internal/errors"
	"github.com/rileyhilliard/fleetwatch/internal/model"
)

// WriteJSON writes v as indented JSON to path. The data goes to a temp
// file in the same directory which is then renamed over path, so readers
// see either the old or the new file, never a partial one.
func WriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrPersist,
			fmt.Sprintf("Couldn't encode %s", path), "")
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WrapWithCode(err, errors.ErrPersist,
			fmt.Sprintf("Couldn't create %s", dir),
			"Check the data directory is writable")
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrPersist,
			fmt.Sprintf("Couldn't write %s", path),
			"Check the data directory is writable")
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return errors.WrapWithCode(err, errors.ErrPersist, fmt.Sprintf("Couldn't write %s", path), "")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return errors.WrapWithCode(err, errors.ErrPersist, fmt.Sprintf("Couldn't sync %s", path), "")
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return errors.WrapWithCode(err, errors.ErrPersist, fmt.Sprintf("Couldn't write %s", path), "")
	}
	// CreateTemp uses 0600; the dashboard is served to other users.
	_ = os.Chmod(tmpName, 0o644)

	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return errors.WrapWithCode(err, errors.ErrPersist, fmt.Sprintf("Couldn't replace %s", path), "")
	}
	return nil
}

// ReadJSON decodes path into v. It returns false with no error if the
// file doesn't exist.
func ReadJSON(path string, v interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if stderrors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errors.WrapWithCode(err, errors.ErrPersist, fmt.Sprintf("Couldn't read %s", path), "")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, errors.WrapWithCode(err, errors.ErrPersist,
			fmt.Sprintf("%s isn't valid JSON", path),
			"Delete the file; it is rewritten after the next poll")
	}
	return true, nil
}

// SnapshotFile writes the snapshot as an ordered JSON list of documents.
type SnapshotFile struct {
	Path string
}

// Name identifies the sink in logs and metrics.
func (f *SnapshotFile) Name() string { return "json" }

// Save rewrites the file with every document in processing order.
func (f *SnapshotFile) Save(_ context.Context, snap *model.FleetSnapshot) error {
	return WriteJSON(f.Path, snap.Documents())
}

// Load reads the persisted documents. A missing file yields no
// documents and no error.
func (f *SnapshotFile) Load() ([]model.ClusterDocument, error) {
	var docs []model.ClusterDocument
	if _, err := ReadJSON(f.Path, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}
