package launcher

import (
	"os"

	"github.com/crollins/webdap/internal/config"
	"github.com/crollins/webdap/internal/errors"
)

// VerifyDependencies checks that every configured install path exists on
// disk. The first missing path produces a DependencyMissing error naming
// the exact command that installs it.
func VerifyDependencies(deps []config.Dependency) error {
	for _, dep := range deps {
		if _, err := os.Stat(dep.Path); err != nil {
			return errors.DependencyMissing(dep.Path, dep.InstallCommand)
		}
	}
	return nil
}
