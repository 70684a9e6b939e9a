package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error is a coded error. Values are treated as immutable: the With*
// methods return modified copies.
type Error struct {
	// Code is the machine-readable error code.
	Code Code

	// Message is safe to show to clients. It must not contain tokens,
	// claim values or connection strings.
	Message string

	// Cause is the wrapped error, if any. It is never serialized.
	Cause error

	// Details holds optional structured context, serialized to clients.
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the cause so errors.Is and errors.As see through e.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the code category to an HTTP status code. Unknown
// categories map to 500.
func (e *Error) HTTPStatus() int {
	switch e.Code.Category() {
	case "VAL":
		return http.StatusBadRequest
	case "AUTH":
		return http.StatusUnauthorized
	case "AUTHZ":
		return http.StatusForbidden
	case "NOTFOUND":
		return http.StatusNotFound
	case "CONFLICT":
		return http.StatusConflict
	case "UNAVAIL":
		return http.StatusServiceUnavailable
	case "TIMEOUT":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WithDetail returns a copy of e with key set to value in Details.
func (e *Error) WithDetail(key string, value any) *Error {
	return e.WithDetails(map[string]any{key: value})
}

// WithDetails returns a copy of e with details merged into Details.
// Keys in details win over existing keys.
func (e *Error) WithDetails(details map[string]any) *Error {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &Error{Code: e.Code, Message: e.Message, Cause: e.Cause, Details: merged}
}

// responseBody is the JSON shape written to HTTP clients.
type responseBody struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// MarshalJSON encodes the client-facing fields. The cause is omitted.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(responseBody{Code: e.Code, Message: e.Message, Details: e.Details})
}

// WriteHTTP writes err to w as a JSON body with the status derived from
// its code. Errors that are not *Error are reported as CodeInternal with
// a generic message so internal details never reach the client.
func WriteHTTP(w http.ResponseWriter, err error) {
	e, ok := AsError(err)
	if !ok {
		e = New(CodeInternal, "internal error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(e.HTTPStatus())
	_ = json.NewEncoder(w).Encode(e)
}

// Format implements fmt.Formatter. %+v includes details and the cause chain.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "Error{Code: %q, Message: %q", e.Code, e.Message)
			if len(e.Details) > 0 {
				fmt.Fprintf(s, ", Details: %v", e.Details)
			}
			if e.Cause != nil {
				fmt.Fprintf(s, ", Cause: %+v", e.Cause)
			}
			fmt.Fprint(s, "}")
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
