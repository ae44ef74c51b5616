// Package operator defines the contract between the editor host and operator modules.
//
// A module is compiled as a Go plugin and exports a single symbol named
// [SymbolName] holding a *Module. The module lists every exported type it
// wants the host to see; the host introspects those types with reflection to
// discover operators and their ports.
//
// An operator type embeds Instance and declares its identity with a guid tag:
//
//	type Add struct {
//		operator.Instance `guid:"5d7d61ae-0a41-4ffa-a51d-93bab665e7fe"`
//
//		A      *operator.Input[float64]  `input:"a1b2c3d4-0000-4000-8000-000000000001"`
//		B      *operator.Input[float64]  `input:"a1b2c3d4-0000-4000-8000-000000000002"`
//		Result *operator.Output[float64] `output:"a1b2c3d4-0000-4000-8000-000000000003"`
//	}
package operator

import "reflect"

// SymbolName is the exported plugin symbol the host looks up.
const SymbolName = "Module"

// Tag keys read by the host.
const (
	IdentityTag = "guid"
	InputTag    = "input"
	OutputTag   = "output"
)

// Node is the base capability of every operator type. Types acquire it by
// embedding Instance.
type Node interface {
	OperatorInstance() *Instance
}

// Instance is the node base embedded by operator types.
type Instance struct {
	// SymbolChildID identifies the instance inside its parent graph. It is
	// assigned by the graph layer, never by the module.
	SymbolChildID string
}

// OperatorInstance implements Node.
func (i *Instance) OperatorInstance() *Instance { return i }

// ResourceSharer is implemented by non-operator types that let a module opt
// into sharing resources with other modules.
type ResourceSharer interface {
	ShouldShareResources() bool
}

// Extractable is implemented by operators that can have an input value
// extracted into a standalone operator of the returned type.
type Extractable interface {
	ExtractableValueType() reflect.Type
}

// ExtractsInput marks an operator as Extractable for values of type T.
type ExtractsInput[T any] struct{}

// ExtractableValueType implements Extractable.
func (ExtractsInput[T]) ExtractableValueType() reflect.Type { return reflect.TypeFor[T]() }

// DescriptiveFileNamer is implemented by operators whose saved symbol files
// are named after their content.
type DescriptiveFileNamer interface {
	UsesDescriptiveFileName() bool
}

// DescriptiveFileName marks an operator as a DescriptiveFileNamer.
type DescriptiveFileName struct{}

// UsesDescriptiveFileName implements DescriptiveFileNamer.
func (DescriptiveFileName) UsesDescriptiveFileName() bool { return true }
