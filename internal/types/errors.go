package types

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`   // JSON path to the field (e.g., "speech.start_threshold")
	Message string `json:"message"` // Human-readable error message
	Value   any    `json:"value"`   // The rejected value
}

// ValidationError collects field validation errors.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

// NewValidationError returns an empty ValidationError.
func NewValidationError() *ValidationError {
	return &ValidationError{Errors: make([]FieldError, 0)}
}

// Add appends a field error.
func (v *ValidationError) Add(field, message string, value any) {
	v.Errors = append(v.Errors, FieldError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// HasErrors reports whether any field error was recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface with the first field error.
func (v *ValidationError) Error() string {
	if len(v.Errors) == 0 {
		return "validation failed"
	}
	e := v.Errors[0]
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}
