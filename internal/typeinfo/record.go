// Package typeinfo holds the immutable operator metadata extracted from loaded
// modules and the concurrent containers it is collected into.
package typeinfo

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"
)

// PortAttribute is the parsed port annotation of a slot. The host treats it as
// an opaque payload and hands it to the graph layer untouched.
type PortAttribute struct {
	ID      uuid.UUID
	Options map[string]string
	Raw     string
}

// ParsePortAttribute parses a tag value of the form "<uuid>[,key=value...]".
func ParsePortAttribute(tag string) (PortAttribute, error) {
	parts := strings.Split(tag, ",")
	id, err := uuid.Parse(strings.TrimSpace(parts[0]))
	if err != nil {
		return PortAttribute{}, fmt.Errorf("invalid port id '%s': %w", parts[0], err)
	}

	attr := PortAttribute{ID: id, Raw: tag}
	for _, opt := range parts[1:] {
		key, value, _ := strings.Cut(strings.TrimSpace(opt), "=")
		if key == "" {
			continue
		}
		if attr.Options == nil {
			attr.Options = make(map[string]string)
		}
		attr.Options[key] = value
	}
	return attr, nil
}

// SlotDescriptor describes one input or output port of an operator type.
type SlotDescriptor struct {
	Name         string
	IsMultiInput bool
	// GenericParameterIndex is the position of the slot's value type among the
	// owner's type parameters, or -1.
	GenericParameterIndex int
	ValueType             reflect.Type
	ValueKind             string
	Attribute             PortAttribute
}

// OperatorTypeRecord aggregates everything discovered about one operator type.
type OperatorTypeRecord struct {
	Type                      reflect.Type
	TypeIdentity              uuid.UUID
	IsGeneric                 bool
	Inputs                    []SlotDescriptor
	Outputs                   []SlotDescriptor
	MemberNames               []string
	IsDescriptiveFileNameType bool
	IsExtractable             bool
	ExtractableType           reflect.Type
}

// Input returns the input slot with the given name.
func (r *OperatorTypeRecord) Input(name string) (SlotDescriptor, bool) {
	return findSlot(r.Inputs, name)
}

// Output returns the output slot with the given name.
func (r *OperatorTypeRecord) Output(name string) (SlotDescriptor, bool) {
	return findSlot(r.Outputs, name)
}

func findSlot(slots []SlotDescriptor, name string) (SlotDescriptor, bool) {
	for _, s := range slots {
		if s.Name == name {
			return s, true
		}
	}
	return SlotDescriptor{}, false
}
