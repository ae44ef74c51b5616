package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	opregerrors "github.com/alexisbeaulieu97/opreg/pkg/errors"
)

// ConvertValidationError normalizes validator errors into validation errors
// naming the offending field. root prefixes the field path.
func ConvertValidationError(root string, err error) error {
	if err == nil {
		return nil
	}

	var ves validator.ValidationErrors
	if errors.As(err, &ves) && len(ves) > 0 {
		ve := ves[0]
		field := yamlishFieldName(root, ve)
		msg := fmt.Sprintf("%s failed validation for tag '%s'", field, ve.Tag())
		return opregerrors.NewValidationError(field, msg, err)
	}

	return opregerrors.NewValidationError(root, err.Error(), err)
}

func yamlishFieldName(root string, fe validator.FieldError) string {
	parts := strings.Split(fe.StructNamespace(), ".")
	lowered := []string{root}
	for _, part := range parts[1:] {
		lowered = append(lowered, strings.ToLower(part))
	}
	return strings.Join(lowered, ".")
}
