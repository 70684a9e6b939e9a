// Package errors provides the coded error type shared by every messaged
// package. Errors carry a machine-readable [Code], a client-safe message,
// an optional cause and optional structured details.
//
// Codes follow the pattern CATEGORY_XXX. The category determines the HTTP
// status returned to clients (see [Error.HTTPStatus]):
//
//	VAL_xxx     400 Bad Request
//	AUTH_xxx    401 Unauthorized
//	AUTHZ_xxx   403 Forbidden
//	INT_xxx     500 Internal Server Error
//	UNAVAIL_xxx 503 Service Unavailable
//	TIMEOUT_xxx 504 Gateway Timeout
//
// The package is conventionally imported as sserr:
//
//	import sserr "github.com/StricklySoft/messaged/pkg/errors"
//
//	if sserr.IsAuthentication(err) {
//	    w.Header().Set("WWW-Authenticate", "Bearer")
//	}
package errors
