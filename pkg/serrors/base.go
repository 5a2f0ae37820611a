package serrors

import "fmt"

// BaseError is a structured error carrying a stable, machine-readable code.
// Codes are part of the public contract and must not change between releases.
type BaseError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *BaseError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s %v", e.Code, e.Message, e.Details)
}

func NewError(code, message string) *BaseError {
	return &BaseError{Code: code, Message: message}
}

// WithDetails attaches structured diagnostic data to the error. The map is
// stored as-is and must be JSON-marshalable.
func (e *BaseError) WithDetails(details map[string]any) *BaseError {
	e.Details = details
	return e
}
