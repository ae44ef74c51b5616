package loadscope

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/alexisbeaulieu97/opreg/pkg/operator"
)

// ErrTypeNotFound is returned when a type name is not exported by an image.
type ErrTypeNotFound struct {
	Module string
	Type   string
}

func (e ErrTypeNotFound) Error() string {
	return fmt.Sprintf("type '%s' is not registered by module '%s'", e.Type, e.Module)
}

// Image is one module binary loaded through a Scope.
type Image struct {
	scope  *Scope
	path   string
	module *operator.Module
	specs  map[string]operator.TypeSpec

	teardownOnce sync.Once
}

func newImage(scope *Scope, path string, mod *operator.Module) *Image {
	specs := make(map[string]operator.TypeSpec, len(mod.Types))
	for _, spec := range mod.Types {
		specs[QualifiedName(spec.Type)] = spec
	}
	return &Image{scope: scope, path: path, module: mod, specs: specs}
}

// Name returns the identity name of the binary.
func (im *Image) Name() string {
	return im.module.Name
}

// Path returns the binary path.
func (im *Image) Path() string {
	return im.path
}

// Version returns the version compiled into the binary.
func (im *Image) Version() string {
	return im.module.Version
}

// Scope returns the scope the image was loaded through.
func (im *Image) Scope() *Scope {
	return im.scope
}

// References returns the binary names the module depends on.
func (im *Image) References() []string {
	out := make([]string, len(im.module.References))
	copy(out, im.module.References)
	return out
}

// Types enumerates the exported types of the module. Every reference must be
// resolvable through the scope, otherwise the type graph cannot be walked and
// enumeration fails as a whole.
func (im *Image) Types() ([]reflect.Type, error) {
	if im.scope.Closed() {
		return nil, ErrScopeClosed
	}

	for _, ref := range im.module.References {
		if _, err := im.scope.Resolve(ref); err != nil {
			var unresolved ErrUnresolvedReference
			if errors.As(err, &unresolved) {
				unresolved.Module = im.module.Name
				return nil, unresolved
			}
			return nil, fmt.Errorf("resolve reference '%s' of module '%s': %w", ref, im.module.Name, err)
		}
	}

	types := make([]reflect.Type, 0, len(im.module.Types))
	for _, spec := range im.module.Types {
		types = append(types, spec.Type)
	}
	return types, nil
}

// Spec returns the registration of t.
func (im *Image) Spec(t reflect.Type) (operator.TypeSpec, bool) {
	spec, ok := im.specs[QualifiedName(t)]
	return spec, ok
}

// Lookup finds an exported type by its fully qualified name.
func (im *Image) Lookup(name string) (reflect.Type, bool) {
	spec, ok := im.specs[name]
	if !ok {
		return nil, false
	}
	return spec.Type, true
}

// New constructs an instance of the named type. Constructor panics are
// recovered and returned as errors.
func (im *Image) New(name string) (v any, err error) {
	if im.scope.Closed() {
		return nil, ErrScopeClosed
	}

	spec, ok := im.specs[name]
	if !ok {
		return nil, ErrTypeNotFound{Module: im.module.Name, Type: name}
	}

	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = fmt.Errorf("construct '%s': panic: %v", name, r)
		}
	}()

	if spec.New != nil {
		return spec.New()
	}
	return reflect.New(spec.Type).Interface(), nil
}

func (im *Image) teardown() (msg string) {
	im.teardownOnce.Do(func() {
		if im.module.Teardown == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				msg = fmt.Sprintf("%s: %v", im.module.Name, r)
			}
		}()
		im.module.Teardown()
	})
	return msg
}

// QualifiedName returns the package-qualified name of t.
func QualifiedName(t reflect.Type) string {
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}
