// Package errors holds the error types surfaced to users of the host: file
// decoding failures, validation failures and failures tied to one module.
package errors

import (
	"fmt"
)

// ParseError reports a file that could not be decoded. Line is 1-based and
// zero when unknown.
type ParseError struct {
	Path string
	Line int
	Err  error
}

// NewParseError constructs a ParseError.
func NewParseError(path string, line int, err error) error {
	return &ParseError{Path: path, Line: line, Err: err}
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}
	location := e.Path
	if e.Line > 0 {
		location = fmt.Sprintf("%s:%d", e.Path, e.Line)
	}
	return fmt.Sprintf("parse error: %s: %s", location, causeText(e.Err))
}

func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError names the manifest or configuration field that failed.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Field == "":
		return "validation error: " + e.Message
	default:
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
}

func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ModuleError attributes a failure to one module binary, named by the
// identity of the binary it produces.
type ModuleError struct {
	Module string
	Err    error
}

// NewModuleError constructs a ModuleError for the named module.
func NewModuleError(module string, err error) error {
	return &ModuleError{Module: module, Err: err}
}

func (e *ModuleError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Module == "":
		return "module error: " + causeText(e.Err)
	default:
		return fmt.Sprintf("module error [%s]: %s", e.Module, causeText(e.Err))
	}
}

func (e *ModuleError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func causeText(err error) string {
	if err == nil {
		return "unknown cause"
	}
	return err.Error()
}
