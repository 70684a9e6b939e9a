// Package config loads service configuration into tagged structs.
//
// Values are resolved in increasing priority:
//
//  1. envDefault struct tags
//  2. a YAML (.yaml, .yml) or JSON (.json) file
//  3. environment variables named by env tags
//
// Nested structs extend the environment prefix with their own env tag, so
// with prefix "MESSAGED" the field below is read from
// MESSAGED_REDIS_ADDR:
//
//	type Config struct {
//	    Redis struct {
//	        Addr string `env:"ADDR" yaml:"addr"`
//	    } `env:"REDIS" yaml:"redis"`
//	}
//
// After loading, fields tagged required:"true" must be non-zero and the
// struct's Validate method, if any, is called.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	sserr "github.com/StricklySoft/messaged/pkg/errors"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Loader loads configuration from defaults, a file and the environment.
type Loader struct {
	envPrefix string
	filePath  string
	strict    bool
}

// New returns a Loader with no prefix and no file.
func New() *Loader {
	return &Loader{}
}

// WithEnvPrefix sets the prefix prepended (with "_") to every env key.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile sets the configuration file. A missing file is not an error.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// WithStrict rejects file keys that do not map to a struct field.
func (l *Loader) WithStrict() *Loader {
	l.strict = true
	return l
}

// Load populates cfg, which must be a non-nil pointer to a struct.
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}
	rv = rv.Elem()

	err := walk(rv, "", "", func(f leaf) error {
		def := f.tag.Get("envDefault")
		if def == "" || !f.value.IsZero() {
			return nil
		}
		if err := setField(f.value, def); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: invalid default for %q", f.path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if l.filePath != "" {
		if err := l.loadFile(cfg); err != nil {
			return err
		}
	}

	err = walk(rv, l.envPrefix, "", func(f leaf) error {
		if f.envKey == "" {
			return nil
		}
		val, ok := os.LookupEnv(f.envKey)
		if !ok {
			return nil
		}
		if err := setField(f.value, val); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: invalid value in %s for %q", f.envKey, f.path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return validate(cfg, rv)
}

// MustLoad loads a T or panics. Intended for main packages.
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

func (l *Loader) loadFile(cfg any) error {
	if strings.Contains(l.filePath, "..") {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: file path must not contain directory traversal (..) sequences")
	}

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to read file %q", l.filePath)
	}

	switch ext := strings.ToLower(filepath.Ext(l.filePath)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(l.strict)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to parse YAML file %q", l.filePath)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		if l.strict {
			dec.DisallowUnknownFields()
		}
		if err := dec.Decode(cfg); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to parse JSON file %q", l.filePath)
		}
	default:
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"config: unsupported file extension %q (use .yaml, .yml, or .json)", ext)
	}
	return nil
}

// leaf is a settable non-struct field reached by walk.
type leaf struct {
	value  reflect.Value
	tag    reflect.StructTag
	path   string
	envKey string
}

// walk visits every settable leaf field of rv depth first. Nested structs
// (other than time.Duration) are descended into with their env tag joined
// onto prefix.
func walk(rv reflect.Value, prefix, path string, visit func(leaf) error) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)
		if !field.CanSet() {
			continue
		}

		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}
		envTag := sf.Tag.Get("env")

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			if err := walk(field, joinEnv(prefix, envTag), fieldPath, visit); err != nil {
				return err
			}
			continue
		}

		var envKey string
		if envTag != "" {
			envKey = joinEnv(prefix, envTag)
		}
		if err := visit(leaf{value: field, tag: sf.Tag, path: fieldPath, envKey: envKey}); err != nil {
			return err
		}
	}
	return nil
}

func joinEnv(prefix, name string) string {
	switch {
	case name == "":
		return prefix
	case prefix == "":
		return name
	default:
		return prefix + "_" + name
	}
}

// setField parses value into field. Supported kinds are string (including
// named string types such as Secret), bool, signed integers,
// time.Duration and comma-separated []string.
func setField(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("cannot parse duration %q: %w", value, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("cannot parse bool %q: %w", value, err)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse integer %q: %w", value, err)
		}
		field.SetInt(n)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		slice := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				slice = reflect.Append(slice, reflect.ValueOf(p).Convert(field.Type().Elem()))
			}
		}
		field.Set(slice)
	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}
