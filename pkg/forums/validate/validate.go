// Package validate runs struct tag validation and reports failures as errs validation errors keyed by json name.
package validate

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/topcoder-platform/forums-groups/pkg/forums/errs"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

// Collect validates s and records every field failure in v
func Collect(v *errs.Validation, s any) {
	err := validate.Struct(s)
	if err == nil {
		return
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		v.Add("body", "is invalid")
		return
	}
	for _, fe := range fieldErrs {
		v.Add(fe.Field(), message(fe))
	}
}

// Struct validates s and returns a CodeValidation error, or nil
func Struct(s any) error {
	var v errs.Validation
	Collect(&v, s)
	return v.Err()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "email":
		return "must be a valid email"
	case "url":
		return "must be a valid URL"
	}
	return "is invalid"
}
