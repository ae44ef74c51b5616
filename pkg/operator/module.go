package operator

import (
	"fmt"
	"reflect"
)

// Module describes one compiled module to the host.
type Module struct {
	// Name is the identity name of the produced binary.
	Name    string
	Version string
	// References lists the binary names this module's types depend on. They
	// are resolved through the host load scope before types are enumerated.
	References []string
	Types      []TypeSpec
	// Teardown runs once when the owning load scope is torn down.
	Teardown func()
}

// TypeSpec registers one exported type of a module.
type TypeSpec struct {
	Type reflect.Type
	// New constructs an instance. When nil the host uses reflect.New.
	New func() (any, error)
	// Shared lists package-level values that belong to the type rather than
	// to its instances.
	Shared []SharedMember
}

// SharedMember is a package-level value declared as a member of a type.
type SharedMember struct {
	Name  string
	Value any
}

// TypeOption configures a TypeSpec.
type TypeOption func(*TypeSpec)

// WithConstructor sets the constructor used when the host instantiates the type.
func WithConstructor(fn func() (any, error)) TypeOption {
	return func(s *TypeSpec) {
		s.New = fn
	}
}

// WithShared declares a package-level value as a member of the type.
func WithShared(name string, value any) TypeOption {
	return func(s *TypeSpec) {
		s.Shared = append(s.Shared, SharedMember{Name: name, Value: value})
	}
}

// Type builds the TypeSpec for T.
func Type[T any](opts ...TypeOption) TypeSpec {
	spec := TypeSpec{Type: reflect.TypeFor[T]()}
	for _, opt := range opts {
		opt(&spec)
	}
	return spec
}

// NewModule creates an empty module description.
func NewModule(name, version string) *Module {
	return &Module{Name: name, Version: version}
}

// Reference records binaries the module depends on.
func (m *Module) Reference(names ...string) *Module {
	m.References = append(m.References, names...)
	return m
}

// Register appends type specs to the module.
func (m *Module) Register(specs ...TypeSpec) *Module {
	m.Types = append(m.Types, specs...)
	return m
}

// OnTeardown sets the teardown hook.
func (m *Module) OnTeardown(fn func()) *Module {
	m.Teardown = fn
	return m
}

// Validate checks the module is usable by the host.
func (m *Module) Validate() error {
	if m == nil {
		return fmt.Errorf("module is nil")
	}
	if m.Name == "" {
		return fmt.Errorf("module requires a non-empty Name")
	}
	for i, spec := range m.Types {
		if spec.Type == nil {
			return fmt.Errorf("module '%s' registers a nil type at index %d", m.Name, i)
		}
	}
	return nil
}
