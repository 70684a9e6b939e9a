package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	sserr "github.com/StricklySoft/messaged/pkg/errors"
)

// Validator is implemented by configuration structs with cross-field rules.
// It runs after required-field and `validate` tag checks.
type Validator interface {
	Validate() error
}

var (
	structValidatorOnce sync.Once
	structValidator     *validator.Validate
)

func getStructValidator() *validator.Validate {
	structValidatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(fieldName)
		structValidator = v
	})
	return structValidator
}

// fieldName reports fields by their yaml or json key so errors match what
// the operator wrote.
func fieldName(f reflect.StructField) string {
	for _, key := range []string{"yaml", "json"} {
		name, _, _ := strings.Cut(f.Tag.Get(key), ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return f.Name
}

// ValidateStruct checks the `validate` struct tags of v (go-playground
// validator syntax). Failures are returned as [sserr.CodeValidation] with
// one detail per field, keyed by its dotted path.
func ValidateStruct(v any) error {
	err := getStructValidator().Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return sserr.Wrap(err, sserr.CodeInternalConfiguration, "config: cannot validate value")
	}

	details := make(map[string]any, len(fieldErrs))
	paths := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		path := fe.Namespace()
		if _, rest, ok := strings.Cut(path, "."); ok {
			path = rest
		}
		details[path] = describe(fe)
		paths = append(paths, path)
	}
	return sserr.Newf(sserr.CodeValidation, "validation failed: %s", strings.Join(paths, ", ")).
		WithDetails(details)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "url":
		return "must be a valid URL"
	case "hostname_port":
		return "must be host:port"
	case "startswith":
		return fmt.Sprintf("must start with %q", fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

func validate(cfg any, rv reflect.Value) error {
	err := walk(rv, "", "", func(f leaf) error {
		if f.tag.Get("required") == "true" && f.value.IsZero() {
			return sserr.Newf(sserr.CodeValidationRequired,
				"config: required field %q is empty", f.path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := ValidateStruct(cfg); err != nil {
		return err
	}

	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			if _, coded := sserr.AsError(err); coded {
				return err
			}
			return sserr.Wrap(err, sserr.CodeValidation, "config: validation failed")
		}
	}
	return nil
}
