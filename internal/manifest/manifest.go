// Package manifest reads the package manifest that sits beside a module binary.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/alexisbeaulieu97/opreg/internal/config"
	opregerrors "github.com/alexisbeaulieu97/opreg/pkg/errors"
)

// FileName is the fixed name of the manifest inside a module directory.
const FileName = "operator-package.yaml"

// ErrManifestNotFound is returned when a module directory has no manifest.
var ErrManifestNotFound = errors.New("package manifest not found")

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// Reference is a declared package dependency.
type Reference struct {
	Identity string `yaml:"identity" validate:"required,identity"`
	Version  string `yaml:"version,omitempty" validate:"omitempty,semver"`
	// ResourcesOnly references share assets but no code or types.
	ResourcesOnly bool `yaml:"resourcesOnly,omitempty"`
}

// ReleaseInfo is the content of a package manifest.
type ReleaseInfo struct {
	Name         string      `yaml:"name" validate:"required,identity"`
	Version      string      `yaml:"version" validate:"required,semver"`
	EditorOnly   bool        `yaml:"editorOnly,omitempty"`
	Dependencies []Reference `yaml:"dependencies,omitempty" validate:"dive"`
}

// Path returns the manifest location for a module directory.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Read loads and validates the manifest of the module directory dir.
func Read(dir string) (*ReleaseInfo, error) {
	path := Path(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, path)
		}
		return nil, opregerrors.NewParseError(path, 0, err)
	}

	var info ReleaseInfo
	if err := yaml.Unmarshal(data, &info); err != nil {
		return nil, opregerrors.NewParseError(path, extractLine(err), err)
	}

	if err := info.Validate(); err != nil {
		return nil, err
	}
	return &info, nil
}

// Write stores info as the manifest of dir.
func Write(dir string, info *ReleaseInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(Path(dir), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Validate checks the manifest content.
func (r *ReleaseInfo) Validate() error {
	if r == nil {
		return opregerrors.NewValidationError("manifest", "manifest is nil", nil)
	}
	if err := config.GetValidator().Struct(r); err != nil {
		return config.ConvertValidationError("manifest", err)
	}

	seen := make(map[string]struct{}, len(r.Dependencies))
	for i, dep := range r.Dependencies {
		if dep.Identity == r.Name {
			return opregerrors.NewValidationError(fmt.Sprintf("manifest.dependencies[%d].identity", i), fmt.Sprintf("package '%s' cannot depend on itself", r.Name), nil)
		}
		if _, dup := seen[dep.Identity]; dup {
			return opregerrors.NewValidationError(fmt.Sprintf("manifest.dependencies[%d].identity", i), fmt.Sprintf("dependency '%s' is listed more than once", dep.Identity), nil)
		}
		seen[dep.Identity] = struct{}{}
	}
	return nil
}

// SameVersion compares two version strings semantically, falling back to
// string equality when either side is not a semantic version.
func SameVersion(a, b string) bool {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	}
	return va.Equal(vb)
}

func extractLine(err error) int {
	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}

	var line int
	if _, scanErr := fmt.Sscanf(matches[1], "%d", &line); scanErr != nil {
		return 0
	}
	return line
}
