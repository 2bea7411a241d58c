// Package validate checks request structs with go-playground/validator and
// reports failures as validation errors.
package validate

import (
	"errors"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/suteetoe/tenantgate/internal/apperror"
)

// Workspace slugs: 3-63 chars, lowercase alphanumerics and inner hyphens.
var slugPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{1,61}[a-z0-9])$`)

// Validator implements echo.Validator. It is safe for concurrent use.
type Validator struct {
	v *validator.Validate
}

// New returns a Validator with the custom tags registered:
//
//	slug       workspace slug, compared case-insensitively
//	notblank   not empty after trimming whitespace
//	maxbytes=N at most N bytes, for limits that are not rune based (bcrypt)
//	oneofci    like oneof, ignoring case and surrounding spaces
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	mustRegister(v, "slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(strings.ToLower(fl.Field().String()))
	})
	mustRegister(v, "notblank", validators.NotBlank)
	mustRegister(v, "maxbytes", func(fl validator.FieldLevel) bool {
		limit, err := strconv.Atoi(fl.Param())
		if err != nil {
			return false
		}
		return len(fl.Field().String()) <= limit
	})
	mustRegister(v, "oneofci", func(fl validator.FieldLevel) bool {
		value := strings.ToLower(strings.TrimSpace(fl.Field().String()))
		for _, option := range strings.Fields(fl.Param()) {
			if value == option {
				return true
			}
		}
		return false
	})
	return &Validator{v: v}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic("validate: register " + tag + ": " + err.Error())
	}
}

// Validate checks i against its validate tags. The first failing field names
// the error code; every failing field is listed under details.fields.
func (v *Validator) Validate(i interface{}) error {
	err := v.v.Struct(i)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperror.Internal(err)
	}

	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fe.Tag()
	}
	first := fieldErrs[0]
	return apperror.Validation("invalid_"+first.Field(), message(first)).WithDetail("fields", fields)
}

func message(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "notblank":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "min":
		return field + " must be at least " + fe.Param() + " characters"
	case "max":
		return field + " must be at most " + fe.Param() + " characters"
	case "maxbytes":
		return field + " must be at most " + fe.Param() + " bytes"
	case "oneof", "oneofci":
		return field + " must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "slug":
		return field + " must be 3-63 lowercase letters, digits or hyphens and may not start or end with a hyphen"
	}
	return field + " is invalid"
}

var std = New()

// Struct validates i with the shared Validator.
func Struct(i interface{}) error {
	return std.Validate(i)
}
