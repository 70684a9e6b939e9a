package errors

import "errors"

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the code of the first *Error in err's chain, or "" if
// there is none.
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether the first *Error in err's chain has code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

func hasCategory(err error, category string) bool {
	return GetCode(err).Category() == category
}

// IsValidation reports whether err is a VAL_xxx error.
func IsValidation(err error) bool { return hasCategory(err, "VAL") }

// IsAuthentication reports whether err is an AUTH_xxx error.
func IsAuthentication(err error) bool { return hasCategory(err, "AUTH") }

// IsAuthorization reports whether err is an AUTHZ_xxx error.
func IsAuthorization(err error) bool { return hasCategory(err, "AUTHZ") }

// IsInternal reports whether err is an INT_xxx error.
func IsInternal(err error) bool { return hasCategory(err, "INT") }

// IsUnavailable reports whether err is an UNAVAIL_xxx error.
func IsUnavailable(err error) bool { return hasCategory(err, "UNAVAIL") }

// IsTimeout reports whether err is a TIMEOUT_xxx error.
func IsTimeout(err error) bool { return hasCategory(err, "TIMEOUT") }

// IsConflict reports whether err is a CONFLICT_xxx error.
func IsConflict(err error) bool { return hasCategory(err, "CONFLICT") }

// IsRetryable reports whether the operation that produced err may
// succeed if retried. Only unavailability and timeouts qualify;
// authentication and mapping failures never do.
func IsRetryable(err error) bool {
	return IsUnavailable(err) || IsTimeout(err)
}
