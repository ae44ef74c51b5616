// Package loadscope isolates the loading of module binaries.
//
// A Scope is bound to one binary path. Every binary loaded through it is
// cached, so two descriptors sharing a scope observe the same Image (and the
// same type identities) for a shared dependency. A scope is torn down exactly
// once by its owner; afterwards every operation fails with ErrScopeClosed.
package loadscope

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/alexisbeaulieu97/opreg/pkg/operator"
)

// BinaryExt is the file extension of module binaries.
const BinaryExt = ".so"

// ErrScopeClosed is returned by every operation on a torn down scope.
var ErrScopeClosed = errors.New("load scope has been torn down")

// ErrUnresolvedReference is returned when a referenced binary cannot be found
// in any probe location of the scope.
type ErrUnresolvedReference struct {
	Module    string
	Reference string
	Searched  []string
}

func (e ErrUnresolvedReference) Error() string {
	return fmt.Sprintf(
		"module '%s' references '%s' which was not found in %s\nHint: build the referenced module or add its directory as a probe path",
		e.Module,
		e.Reference,
		strings.Join(e.Searched, ", "),
	)
}

// Opener turns a module binary on disk into its module description.
type Opener interface {
	Open(path string) (*operator.Module, error)
}

// Scope is an isolated, revocable loading context.
type Scope struct {
	mu     sync.Mutex
	path   string
	probes []string
	opener Opener
	images map[string]*Image
	closed bool
}

// New creates a scope bound to the binary at path.
func New(path string, opener Opener) *Scope {
	abs := absPath(path)
	return &Scope{
		path:   abs,
		probes: []string{filepath.Dir(abs)},
		opener: opener,
		images: make(map[string]*Image),
	}
}

// Path returns the binary the scope is bound to.
func (s *Scope) Path() string {
	return s.path
}

// AddProbePath registers an additional location used to resolve references.
// A file path contributes its directory as well as itself.
func (s *Scope) AddProbePath(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrScopeClosed
	}

	abs := absPath(path)
	for _, existing := range s.probes {
		if existing == abs {
			return nil
		}
	}
	s.probes = append(s.probes, abs)
	return nil
}

// ProbePaths returns the probe locations in registration order.
func (s *Scope) ProbePaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.probes))
	copy(out, s.probes)
	return out
}

// Load loads the binary at path through the scope, returning the cached image
// when it was loaded before.
func (s *Scope) Load(path string) (*Image, error) {
	abs := absPath(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrScopeClosed
	}
	if img, ok := s.images[abs]; ok {
		return img, nil
	}

	mod, err := s.opener.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("open module binary %s: %w", abs, err)
	}
	if err := mod.Validate(); err != nil {
		return nil, fmt.Errorf("open module binary %s: %w", abs, err)
	}

	img := newImage(s, abs, mod)
	s.images[abs] = img
	return img, nil
}

// Resolve finds a binary by name among the probe locations and loads it.
func (s *Scope) Resolve(name string) (*Image, error) {
	candidates, err := s.candidates(name)
	if err != nil {
		return nil, err
	}

	for _, candidate := range candidates {
		info, statErr := os.Stat(candidate)
		if statErr != nil || info.IsDir() {
			continue
		}
		return s.Load(candidate)
	}

	return nil, ErrUnresolvedReference{Reference: name, Searched: s.ProbePaths()}
}

func (s *Scope) candidates(name string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrScopeClosed
	}

	var out []string
	for _, probe := range s.probes {
		if BinaryName(probe) == name && filepath.Ext(probe) == BinaryExt {
			out = append(out, probe)
			continue
		}
		dir := probe
		if filepath.Ext(probe) == BinaryExt {
			dir = filepath.Dir(probe)
		}
		out = append(out, filepath.Join(dir, name+BinaryExt))
	}
	return out, nil
}

// Close tears the scope down. Module teardown hooks run once and every cached
// image is dropped. Calling Close again returns ErrScopeClosed.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrScopeClosed
	}
	s.closed = true
	images := s.images
	s.images = nil
	s.mu.Unlock()

	var panics []string
	for _, img := range images {
		if msg := img.teardown(); msg != "" {
			panics = append(panics, msg)
		}
	}
	if len(panics) > 0 {
		return fmt.Errorf("module teardown panicked: %s", strings.Join(panics, "; "))
	}
	return nil
}

// Closed reports whether the scope was torn down.
func (s *Scope) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// BinaryName derives a module name from its binary path.
func BinaryName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}
