package module

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"github.com/alexisbeaulieu97/opreg/internal/loadscope"
	"github.com/alexisbeaulieu97/opreg/internal/logger"
	"github.com/alexisbeaulieu97/opreg/internal/manifest"
)

// Set is the group of modules discovered under one directory tree.
type Set struct {
	descriptors []*Descriptor
	byName      map[string]*Descriptor
	log         *logger.Logger
}

// Discover creates one descriptor per module binary found under root. The
// editor-only flag is taken from each module's manifest when present.
func Discover(root string, opts *Options, log *logger.Logger) (*Set, error) {
	if log == nil {
		log = logger.Nop()
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if path != root && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) == loadscope.BinaryExt {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover modules in %s: %w", root, err)
	}
	sort.Strings(paths)

	set := &Set{byName: make(map[string]*Descriptor), log: log}
	for _, path := range paths {
		editorOnly := false
		info, readErr := manifest.Read(filepath.Dir(path))
		switch {
		case readErr == nil:
			editorOnly = info.EditorOnly
		case !errors.Is(readErr, manifest.ErrManifestNotFound):
			log.With("path", path).Warn("ignoring unreadable package manifest: " + readErr.Error())
		}

		if err := set.Add(New(path, editorOnly, opts, log)); err != nil {
			return nil, err
		}
	}

	log.WithFields(map[string]any{"root": root, "modules": len(set.descriptors)}).Debug("modules discovered")
	return set, nil
}

// NewSet groups existing descriptors.
func NewSet(log *logger.Logger, descriptors ...*Descriptor) (*Set, error) {
	if log == nil {
		log = logger.Nop()
	}
	set := &Set{byName: make(map[string]*Descriptor), log: log}
	for _, d := range descriptors {
		if err := set.Add(d); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// Add registers a descriptor. Module names must be unique within a set.
func (s *Set) Add(d *Descriptor) error {
	if existing, ok := s.byName[d.Name()]; ok {
		return fmt.Errorf("module '%s' found at %s and %s\nHint: module binary names must be unique", d.Name(), existing.Path(), d.Path())
	}
	s.byName[d.Name()] = d
	s.descriptors = append(s.descriptors, d)
	return nil
}

// Descriptors returns the modules in discovery order.
func (s *Set) Descriptors() []*Descriptor {
	out := make([]*Descriptor, len(s.descriptors))
	copy(out, s.descriptors)
	return out
}

// Get returns the module with the given name.
func (s *Set) Get(name string) (*Descriptor, bool) {
	d, ok := s.byName[name]
	return d, ok
}

// ResolveExtensions lets every editor-only module share the load scope of the
// modules it depends on. Modules without a manifest are skipped.
func (s *Set) ResolveExtensions() error {
	var errs error
	for _, d := range s.descriptors {
		if !d.IsEditorOnly() {
			continue
		}
		if _, err := d.ReplaceResolversOf(s.descriptors); err != nil {
			if errors.Is(err, manifest.ErrManifestNotFound) {
				s.log.With("module", d.Name()).Warn("editor-only module has no package manifest; dependencies not resolved")
				continue
			}
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Graph builds the dependency graph of the set. Modules whose manifest cannot
// be read contribute no edges.
func (s *Set) Graph() *Graph {
	graph := NewGraph()
	for _, d := range s.descriptors {
		graph.AddModule(d.Name(), d.IsEditorOnly())
	}
	for _, d := range s.descriptors {
		for _, other := range s.descriptors {
			if d == other {
				continue
			}
			depends, err := d.DependsOn(other)
			if err != nil {
				s.log.With("module", d.Name()).Debug("skipping dependency edges: " + err.Error())
				break
			}
			if depends {
				graph.AddEdge(d.Name(), other.Name())
			}
		}
	}
	return graph
}

// LoadOrder returns the modules with dependencies first.
func (s *Set) LoadOrder() ([]*Descriptor, error) {
	names, err := s.Graph().TopologicalSort()
	if err != nil {
		return nil, err
	}
	ordered := make([]*Descriptor, 0, len(names))
	for _, name := range names {
		ordered = append(ordered, s.byName[name])
	}
	return ordered, nil
}

// LoadAll loads every module in dependency order and returns the modules that
// failed to load.
func (s *Set) LoadAll() ([]*Descriptor, error) {
	ordered, err := s.LoadOrder()
	if err != nil {
		return nil, err
	}

	var failed []*Descriptor
	for _, d := range ordered {
		if !d.TryLoadTypes() {
			failed = append(failed, d)
		}
	}
	return failed, nil
}

// UnloadAll unloads every module, dependents first.
func (s *Set) UnloadAll() {
	ordered, err := s.LoadOrder()
	if err != nil {
		ordered = s.Descriptors()
	}
	for i := len(ordered) - 1; i >= 0; i-- {
		ordered[i].Unload()
	}
}
