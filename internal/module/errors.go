package module

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrScopeReleased is returned when a descriptor that shared another
// descriptor's load scope is asked to load after releasing it.
var ErrScopeReleased = errors.New("shared load scope was released\nHint: resolve dependencies again so the module adopts its owner's scope")

// ErrMissingIdentity is returned for operator types declaring no identity or
// more than one.
type ErrMissingIdentity struct {
	Type  string
	Count int
}

func (e ErrMissingIdentity) Error() string {
	if e.Count == 0 {
		return fmt.Sprintf("operator type '%s' declares no identity\nHint: add a guid tag to the embedded operator.Instance", e.Type)
	}
	return fmt.Sprintf("operator type '%s' declares %d identities, expected exactly one\nHint: keep a single guid tag per operator type", e.Type, e.Count)
}

// ErrInvalidIdentity is returned when the identity tag is not a valid UUID.
type ErrInvalidIdentity struct {
	Type  string
	Value string
	Err   error
}

func (e ErrInvalidIdentity) Error() string {
	return fmt.Sprintf("operator type '%s' declares invalid identity '%s': %v", e.Type, e.Value, e.Err)
}

func (e ErrInvalidIdentity) Unwrap() error {
	return e.Err
}

// ErrDuplicateIdentity is returned when two operator types of one module share
// an identity. The type registered first keeps it.
type ErrDuplicateIdentity struct {
	ID       uuid.UUID
	Type     string
	Existing string
}

func (e ErrDuplicateIdentity) Error() string {
	return fmt.Sprintf(
		"operator type '%s' reuses identity %s already held by '%s'\nHint: generate a fresh guid for one of the types",
		e.Type,
		e.ID,
		e.Existing,
	)
}

// ErrStaticSlot is returned for slots declared as shared (type-level) members.
type ErrStaticSlot struct {
	Type string
	Slot string
}

func (e ErrStaticSlot) Error() string {
	return fmt.Sprintf("slot '%s' of operator type '%s' is shared across instances\nHint: declare slots as struct fields", e.Slot, e.Type)
}

// ErrMissingPortAnnotation is returned for input slots lacking a port tag.
type ErrMissingPortAnnotation struct {
	Type string
	Slot string
}

func (e ErrMissingPortAnnotation) Error() string {
	return fmt.Sprintf("input slot '%s' of operator type '%s' has no input annotation\nHint: add an input:\"<guid>\" tag to the field", e.Slot, e.Type)
}

// ErrInvalidPortAnnotation is returned when a port tag cannot be parsed.
type ErrInvalidPortAnnotation struct {
	Type string
	Slot string
	Err  error
}

func (e ErrInvalidPortAnnotation) Error() string {
	return fmt.Sprintf("slot '%s' of operator type '%s' has an invalid annotation: %v", e.Slot, e.Type, e.Err)
}

func (e ErrInvalidPortAnnotation) Unwrap() error {
	return e.Err
}

// ErrSharedScopeConflict is returned when a module that already shares a
// foreign load scope is asked to adopt a different one. Diamond dependencies
// are not resolved.
type ErrSharedScopeConflict struct {
	Module  string
	Current string
	Offered string
}

func (e ErrSharedScopeConflict) Error() string {
	return fmt.Sprintf(
		"module '%s' already shares the load scope of %s and cannot adopt the scope of %s\nHint: diamond dependencies between extension modules are not supported",
		e.Module,
		e.Current,
		e.Offered,
	)
}

// ErrExtractionPanic wraps a panic raised while introspecting a type.
type ErrExtractionPanic struct {
	Type  string
	Value any
}

func (e ErrExtractionPanic) Error() string {
	return fmt.Sprintf("introspecting operator type '%s' panicked: %v", e.Type, e.Value)
}

func joinNames(names []string) string {
	return strings.Join(names, ", ")
}
