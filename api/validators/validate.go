// Package validators decodes and checks request input for the HTTP API.
package validators

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

var validate = newValidator()

// enumTags maps struct tags to the enum each one accepts.
var enumTags = map[string]func(string) bool{
	"channel_type":        func(v string) bool { return enums.ChannelType(v).IsValid() },
	"allocation_strategy": func(v string) bool { return enums.AllocationStrategy(v).IsValid() },
	"resolution_strategy": func(v string) bool { return enums.ResolutionStrategy(v).IsValid() },
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})
	for tag, ok := range enumTags {
		check := ok
		if err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return check(strings.TrimSpace(fl.Field().String()))
		}); err != nil {
			panic(fmt.Sprintf("register %s: %v", tag, err))
		}
	}
	return v
}

// Struct runs the tag rules on dest and maps failures to a validation error
// keyed by JSON field name.
func Struct(dest any) error {
	if err := validate.Struct(dest); err != nil {
		return fieldErrors(err)
	}
	return nil
}

func fieldErrors(err error) *pkgerrors.Error {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		details[fieldPath(fe)] = describe(fe)
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
}

// fieldPath drops the top-level struct name from the namespace so nested
// fields read as bounds[abc].min.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		if fe.Kind() == reflect.Slice || fe.Kind() == reflect.Map {
			return fmt.Sprintf("must have at most %s items", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be %s or greater", fe.Param())
	case "uuid":
		return "must be a uuid"
	}
	if _, ok := enumTags[fe.Tag()]; ok {
		return "must be a known " + strings.ReplaceAll(fe.Tag(), "_", " ")
	}
	return "is invalid"
}
