package errors

// Code is a machine-readable error code. Codes are stable once assigned
// and are returned to clients in error bodies.
type Code string

const (
	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required value is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationFormat indicates a value could not be parsed.
	CodeValidationFormat Code = "VAL_003"

	// CodeValidationRange indicates a value is outside its accepted range.
	CodeValidationRange Code = "VAL_004"

	// CodeAuthentication indicates the request carried no credentials.
	CodeAuthentication Code = "AUTH_001"

	// CodeAuthenticationExpired indicates the bearer token has expired.
	CodeAuthenticationExpired Code = "AUTH_002"

	// CodeAuthenticationInvalid indicates the bearer token failed verification.
	CodeAuthenticationInvalid Code = "AUTH_003"

	// CodeAuthenticationSession indicates the token belongs to a login
	// session that was superseded by a newer login of the same subject.
	CodeAuthenticationSession Code = "AUTH_004"

	// CodeAuthorization indicates a general authorization failure.
	CodeAuthorization Code = "AUTHZ_001"

	// CodeAuthorizationRoleMissing indicates the principal holds none of
	// the roles a route requires.
	CodeAuthorizationRoleMissing Code = "AUTHZ_002"

	// CodeNotFound indicates the requested route or resource does not
	// exist.
	CodeNotFound Code = "NOTFOUND_001"

	// CodeConflict indicates an operation is not allowed in the current
	// state, such as an invalid lifecycle transition.
	CodeConflict Code = "CONFLICT_001"

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalDatabase indicates a session store operation failed.
	CodeInternalDatabase Code = "INT_002"

	// CodeInternalConfiguration indicates invalid service configuration.
	CodeInternalConfiguration Code = "INT_003"

	// CodeInternalMapping indicates a verified claim set could not be
	// mapped to a principal. This points at identity provider
	// misconfiguration and is never retried.
	CodeInternalMapping Code = "INT_004"

	// CodeInternalNoActiveRequest indicates the principal accessor was
	// called outside the scope of an inbound request.
	CodeInternalNoActiveRequest Code = "INT_005"

	// CodeUnavailable indicates a general unavailability.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableDependency indicates the identity provider or a
	// session backend could not be reached.
	CodeUnavailableDependency Code = "UNAVAIL_002"

	// CodeTimeout indicates a general timeout.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutDatabase indicates a session store operation timed out.
	CodeTimeoutDatabase Code = "TIMEOUT_002"

	// CodeTimeoutDependency indicates a call to the identity provider
	// timed out.
	CodeTimeoutDependency Code = "TIMEOUT_003"
)

// String returns the code as a string.
func (c Code) String() string {
	return string(c)
}

// Category returns the prefix before the first underscore ("AUTH" for
// "AUTH_002"). A code without an underscore is its own category.
func (c Code) Category() string {
	s := string(c)
	for i := 0; i < len(s); i++ {
		if s[i] == '_' {
			return s[:i]
		}
	}
	return s
}
