package infra

import (
	"fmt"
	"os"
	"path/filepath"
)

// ensureDir creates path unless it already exists as a directory.
func ensureDir(path string) error {
	fi, err := os.Stat(path)
	switch {
	case err == nil && fi.IsDir():
		return nil
	case err == nil:
		return fmt.Errorf("%s exists and is not a directory", path)
	case os.IsNotExist(err):
		return os.MkdirAll(path, 0o755)
	}
	return err
}

// WorkflowsDir holds one YAML file per deployed definition version.
func WorkflowsDir(base string) string { return filepath.Join(base, "workflows") }

// InstancesDir holds one YAML snapshot per instance.
func InstancesDir(base string) string { return filepath.Join(base, "instances") }
