package operator

import "reflect"

// Slot is implemented by every port type. Methods use value receivers so both
// slot values and slot pointers satisfy the capability checks.
type Slot interface {
	SlotValueType() reflect.Type
}

// InputSlot is the capability of ports that receive values.
type InputSlot interface {
	Slot
	inputSlot()
}

// OutputSlot is the capability of ports that produce values.
type OutputSlot interface {
	Slot
	outputSlot()
}

// Output is a port producing a value of type T.
type Output[T any] struct {
	Value T
	Dirty bool
}

// SlotValueType implements Slot.
func (Output[T]) SlotValueType() reflect.Type { return reflect.TypeFor[T]() }

func (Output[T]) outputSlot() {}

// Set stores v and marks the output dirty.
func (o *Output[T]) Set(v T) {
	o.Value = v
	o.Dirty = true
}

// Input is a port receiving a value of type T, either from a connected output
// or from its own default value.
type Input[T any] struct {
	Default   T
	connected []*Output[T]
}

// SlotValueType implements Slot.
func (Input[T]) SlotValueType() reflect.Type { return reflect.TypeFor[T]() }

func (Input[T]) inputSlot() {}

// Connect appends out to the connection list.
func (in *Input[T]) Connect(out *Output[T]) {
	in.connected = append(in.connected, out)
}

// Disconnect removes every connection.
func (in *Input[T]) Disconnect() {
	in.connected = nil
}

// IsConnected reports whether at least one output feeds the input.
func (in *Input[T]) IsConnected() bool {
	return len(in.connected) > 0
}

// Get returns the first connected output's value or the default.
func (in *Input[T]) Get() T {
	if len(in.connected) == 0 {
		return in.Default
	}
	return in.connected[0].Value
}

// MultiInput is an input accepting any number of connections.
type MultiInput[T any] struct {
	Input[T]
}

// Values returns the values of all connected outputs in connection order.
func (in *MultiInput[T]) Values() []T {
	values := make([]T, 0, len(in.connected))
	for _, out := range in.connected {
		values = append(values, out.Value)
	}
	return values
}

// TypeParameter is implemented by the placeholder types T0..T3. An operator
// type instantiated only with placeholders is an open generic definition.
type TypeParameter interface {
	typeParameter()
}

type placeholder struct{}

func (placeholder) typeParameter() {}

// Placeholder type parameters for open generic operator definitions.
type (
	T0 struct{ placeholder }
	T1 struct{ placeholder }
	T2 struct{ placeholder }
	T3 struct{ placeholder }
)
