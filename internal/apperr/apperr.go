// Package apperr defines the error classes shared by the catalog services
// and their mapping onto HTTP responses.
package apperr

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/zeebo/errs"
	"gorm.io/gorm"
)

var (
	// Validation is returned when caller input or a state transition is rejected.
	Validation = errs.Class("validation")
	// NotFound is returned when a referenced record does not exist.
	NotFound = errs.Class("not found")
	// Forbidden is returned when the acting user may not modify a record.
	Forbidden = errs.Class("forbidden")
	// Conflict is returned when an operation collides with existing data.
	Conflict = errs.Class("conflict")
	// Config is returned for invalid static configuration such as copy
	// relation names or mutually exclusive command flags.
	Config = errs.Class("configuration")
)

// FieldErrors maps a field name to a human readable message.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+f[k])
	}
	return strings.Join(parts, "; ")
}

// Field returns a validation error for a single field.
func Field(field, message string) error {
	return Validation.Wrap(FieldErrors{field: message})
}

// Fields extracts field errors from err, if any.
func Fields(err error) (FieldErrors, bool) {
	var fe FieldErrors
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// Status maps err onto an HTTP status code.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case Validation.Has(err):
		return http.StatusBadRequest
	case NotFound.Has(err), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case Forbidden.Has(err):
		return http.StatusForbidden
	case Conflict.Has(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Body renders err as a JSON response body. Field errors are returned as a
// field to message mapping, everything else under an "error" key.
func Body(err error) map[string]any {
	if fe, ok := Fields(err); ok {
		body := make(map[string]any, len(fe))
		for k, v := range fe {
			body[k] = v
		}
		return body
	}
	if Status(err) == http.StatusInternalServerError {
		return map[string]any{"error": "Internal server error"}
	}
	return map[string]any{"error": err.Error()}
}
