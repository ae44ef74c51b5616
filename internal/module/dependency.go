package module

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/alexisbeaulieu97/opreg/internal/loadscope"
	"github.com/alexisbeaulieu97/opreg/internal/manifest"
)

// Matches reports whether a declared dependency reference points at the
// package described by info. Resources-only references never match. Versions
// are not compared.
func Matches(ref manifest.Reference, info *manifest.ReleaseInfo) bool {
	if ref.ResourcesOnly || info == nil {
		return false
	}
	return ref.Identity == info.Name
}

// DependsOn reports whether this module needs other's types. The manifest
// must be readable; its references are checked first and the references
// compiled into the binary serve as a fallback.
func (d *Descriptor) DependsOn(other *Descriptor) (bool, error) {
	if other == nil || other == d {
		return false, nil
	}

	info, err := d.readManifest()
	if err != nil {
		return false, fmt.Errorf("resolve dependencies of module '%s': %w", d.name, err)
	}

	target := other.releaseIdentity()
	if lo.ContainsBy(info.Dependencies, func(ref manifest.Reference) bool {
		return Matches(ref, target)
	}) {
		return true, nil
	}

	d.mu.Lock()
	img, err := d.imageLocked()
	d.mu.Unlock()
	if err != nil {
		d.log.Debug("binary references unavailable for dependency check: " + err.Error())
		return false, nil
	}
	return lo.Contains(img.References(), other.name), nil
}

// ReplaceResolversOf makes every candidate this module depends on share this
// module's load scope. Each adopted candidate's binary becomes a probe path
// of the shared scope. It returns true when at least one candidate now shares
// the scope.
func (d *Descriptor) ReplaceResolversOf(candidates []*Descriptor) (bool, error) {
	d.mu.Lock()
	scope, err := d.scopeLocked()
	d.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("resolve dependencies of module '%s': %w", d.name, err)
	}

	matched := false
	for _, candidate := range candidates {
		if candidate == nil || candidate == d {
			continue
		}

		depends, err := d.DependsOn(candidate)
		if err != nil {
			return matched, err
		}
		if !depends {
			continue
		}

		adopted, err := d.shareScopeWith(candidate, scope)
		if err != nil {
			return matched, err
		}
		if adopted {
			d.log.With("candidate", candidate.name).Info("module now shares this load scope")
			matched = true
		}
	}
	return matched, nil
}

// shareScopeWith hands scope to candidate while d still holds it. The lock
// order is adopter then candidate.
func (d *Descriptor) shareScopeWith(candidate *Descriptor, scope *loadscope.Scope) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.scope != scope || scope.Closed() {
		return false, fmt.Errorf("share load scope of module '%s': %w", d.name, loadscope.ErrScopeClosed)
	}

	if err := candidate.adoptScope(scope, d.name); err != nil {
		d.log.With("candidate", candidate.name).Warn(err.Error())
		return false, nil
	}
	if err := scope.AddProbePath(candidate.path); err != nil {
		return false, fmt.Errorf("register probe path of module '%s': %w", candidate.name, err)
	}
	return true, nil
}

// adoptScope replaces the candidate's scope with scope. A scope the candidate
// owned is torn down because the types loaded through it would no longer
// compare equal to those of the shared scope.
func (d *Descriptor) adoptScope(scope *loadscope.Scope, owner string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.scope == scope {
		return nil
	}
	if !d.ownsScope && d.scope != nil && !d.scope.Closed() {
		return ErrSharedScopeConflict{Module: d.name, Current: d.scope.Path(), Offered: scope.Path()}
	}

	d.resetLocked()
	if d.ownsScope && d.scope != nil {
		if err := d.scope.Close(); err == nil {
			d.metrics.ScopeTornDown()
		}
	}

	d.scope = scope
	d.ownsScope = false
	d.log.With("owner", owner).Debug("adopted shared load scope")
	return nil
}

func (d *Descriptor) readManifest() (*manifest.ReleaseInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return manifest.Read(d.directory)
}

// releaseIdentity describes the package producing this binary. Without a
// readable manifest the binary name stands in for the package name.
func (d *Descriptor) releaseIdentity() *manifest.ReleaseInfo {
	info, err := d.readManifest()
	if err != nil {
		return &manifest.ReleaseInfo{Name: d.name}
	}
	return info
}
