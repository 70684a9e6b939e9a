package errors

import "fmt"

// New returns an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error with the given code and message wrapping err.
// It returns nil when err is nil so it can be used on any return path.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// Validationf returns a CodeValidation error.
func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// Unauthorized returns a CodeAuthentication error.
func Unauthorized(message string) *Error {
	return New(CodeAuthentication, message)
}

// Forbidden returns a CodeAuthorization error.
func Forbidden(message string) *Error {
	return New(CodeAuthorization, message)
}

// Internal returns a CodeInternal error.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// Internalf returns a CodeInternal error with a formatted message.
func Internalf(format string, args ...any) *Error {
	return Newf(CodeInternal, format, args...)
}

// FromError converts err into an *Error. Coded errors anywhere in the
// chain are returned as is; anything else is wrapped as CodeInternal.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	return Wrap(err, CodeInternal, "internal error")
}
