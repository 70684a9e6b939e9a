package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAsError_Wrapped(t *testing.T) {
	inner := New(CodeAuthenticationExpired, "token expired")
	outer := fmt.Errorf("verify: %w", inner)

	got, ok := AsError(outer)
	if !ok {
		t.Fatal("AsError should find a coded error behind fmt.Errorf")
	}
	if got != inner {
		t.Error("AsError should return the inner error")
	}
}

func TestAsError_NilAndPlain(t *testing.T) {
	if _, ok := AsError(nil); ok {
		t.Error("AsError(nil) should return false")
	}
	if _, ok := AsError(errors.New("plain")); ok {
		t.Error("AsError(plain) should return false")
	}
}

func TestGetCode_AndHasCode(t *testing.T) {
	err := errors.Join(errors.New("other"), New(CodeInternalNoActiveRequest, "no request"))
	if got := GetCode(err); got != CodeInternalNoActiveRequest {
		t.Errorf("GetCode = %q", got)
	}
	if !HasCode(err, CodeInternalNoActiveRequest) {
		t.Error("HasCode should be true")
	}
	if GetCode(errors.New("plain")) != "" {
		t.Error("GetCode(plain) should be empty")
	}
}

func TestCategoryChecks(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"validation", New(CodeValidationFormat, "x"), IsValidation, true},
		{"authentication", New(CodeAuthenticationSession, "x"), IsAuthentication, true},
		{"authorization is not authentication", New(CodeAuthorization, "x"), IsAuthentication, false},
		{"authorization", New(CodeAuthorizationRoleMissing, "x"), IsAuthorization, true},
		{"internal", New(CodeInternalMapping, "x"), IsInternal, true},
		{"unavailable", New(CodeUnavailableDependency, "x"), IsUnavailable, true},
		{"timeout", New(CodeTimeoutDatabase, "x"), IsTimeout, true},
		{"retryable timeout", New(CodeTimeoutDependency, "x"), IsRetryable, true},
		{"mapping not retryable", New(CodeInternalMapping, "x"), IsRetryable, false},
		{"plain not retryable", errors.New("x"), IsRetryable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check(tt.err); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromError(t *testing.T) {
	if FromError(nil) != nil {
		t.Error("FromError(nil) should be nil")
	}
	coded := New(CodeValidation, "bad")
	if FromError(fmt.Errorf("w: %w", coded)) != coded {
		t.Error("FromError should return the coded error in the chain")
	}
	plain := errors.New("plain")
	got := FromError(plain)
	if got.Code != CodeInternal || !errors.Is(got, plain) {
		t.Errorf("FromError(plain) = %+v", got)
	}
}
