package api

import (
	"os"

	"github.com/atimmer/devservers/internal/apierr"
)

// validateProjectPath rejects a project registration whose path does not
// exist or is not a directory (SPEC_FULL.md §C, "Compose project path
// validation").
func validateProjectPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return apierr.Validation("project path %q is not accessible: %v", path, err)
	}
	if !info.IsDir() {
		return apierr.Validation("project path %q is not a directory", path)
	}
	return nil
}
