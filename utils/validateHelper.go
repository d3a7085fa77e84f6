package utils

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// ValidateInput runs struct tag validation and returns a validation AppError listing failed fields.
func ValidateInput(input any) error {
	err := getValidator().Struct(input)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	fields := ProcessValidationErrors(validationErrors)
	parts := make([]string, 0, len(fields))
	for field, tag := range fields {
		parts = append(parts, fmt.Sprintf("%s (%s)", field, tag))
	}
	sort.Strings(parts)
	return ValidationError("invalid_input", "invalid input: %s", strings.Join(parts, ", "))
}

func ProcessValidationErrors(validationErrors validator.ValidationErrors) map[string]string {
	errorResponse := make(map[string]string)
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}
