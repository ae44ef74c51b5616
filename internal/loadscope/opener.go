package loadscope

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/multierr"

	"github.com/alexisbeaulieu97/opreg/pkg/operator"
)

// ErrModuleNotFound is returned by a Catalog for binaries it does not know.
type ErrModuleNotFound struct {
	Name string
}

func (e ErrModuleNotFound) Error() string {
	return fmt.Sprintf("module '%s' not found in catalog\nHint: register statically linked modules before loading them", e.Name)
}

// Catalog is an in-process Opener for modules linked into the host. The binary
// file must still exist on disk; its base name selects the module.
type Catalog struct {
	mu      sync.RWMutex
	modules map[string]*operator.Module
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{modules: make(map[string]*operator.Module)}
}

// Add registers mod under the given binary name.
func (c *Catalog) Add(binaryName string, mod *operator.Module) error {
	if err := mod.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.modules[binaryName]; exists {
		return fmt.Errorf("module binary '%s' already registered", binaryName)
	}
	c.modules[binaryName] = mod
	return nil
}

// MustAdd is Add that panics on error.
func (c *Catalog) MustAdd(binaryName string, mod *operator.Module) *Catalog {
	if err := c.Add(binaryName, mod); err != nil {
		panic(err)
	}
	return c
}

// Open implements Opener.
func (c *Catalog) Open(path string) (*operator.Module, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	name := BinaryName(path)
	c.mu.RLock()
	mod, ok := c.modules[name]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrModuleNotFound{Name: name}
	}
	return mod, nil
}

// Openers tries each opener in order and returns the first success.
type Openers []Opener

// Open implements Opener.
func (o Openers) Open(path string) (*operator.Module, error) {
	var errs error
	for _, opener := range o {
		mod, err := opener.Open(path)
		if err == nil {
			return mod, nil
		}
		errs = multierr.Append(errs, err)
	}
	if errs == nil {
		return nil, fmt.Errorf("no opener configured for %s", path)
	}
	return nil, errs
}

// DefaultOpener resolves statically linked modules first and falls back to
// Go plugins.
func DefaultOpener(catalog *Catalog) Opener {
	if catalog == nil {
		return PluginOpener{}
	}
	return Openers{catalog, PluginOpener{}}
}
