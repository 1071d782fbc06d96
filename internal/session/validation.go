package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError reports field-scoped input failures. It is produced before
// any network call; a request that fails validation never reaches the server.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// asValidationError converts validator output into field-level messages.
func asValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			fields[name] = fmt.Sprintf("%s is required", fe.Field())
		case "min":
			fields[name] = fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
		case "email":
			fields[name] = "Email must be a valid address"
		default:
			fields[name] = fmt.Sprintf("%s is invalid", fe.Field())
		}
	}
	return &ValidationError{Fields: fields}
}
