package core

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"fieldnotes/internal/types"
)

// Validator wraps go-playground/validator for request body validation.
// Handlers call ValidateStruct after DecodeJSON; tag failures come back as
// field-keyed validation errors.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		validate: validator.New(),
		logger:   logger,
	}
}

// ValidateStruct validates dst against its struct tags. Returns a
// *types.AppError carrying the first offending field in Details.
func (v *Validator) ValidateStruct(dst interface{}) error {
	err := v.validate.Struct(dst)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"validation invoked on a non-struct value",
			err,
		)
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationMissingField,
			"invalid value for field "+strings.ToLower(fe.Field()),
			err,
			map[string]any{
				"field": strings.ToLower(fe.Field()),
				"rule":  fe.Tag(),
			},
		)
	}

	return types.NewAppError(
		types.ErrCodeValidationMissingField,
		"request validation failed",
		err,
	)
}
