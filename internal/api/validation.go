package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/public-sector-payments/internal/apperr"
	"github.com/sheikh-saqib/public-sector-payments/internal/models"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
	errValidate  error
)

// newValidator registers the money rules used by request tags. Field names in
// errors follow the json tag.
func newValidator() (*validator.Validate, error) {
	vld := validator.New(validator.WithRequiredStructEnabled())
	vld.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})

	// decimal.Decimal is read directly; registering a custom type func that
	// returns the same type would loop.
	if err := vld.RegisterValidation("positive_decimal", func(fl validator.FieldLevel) bool {
		value, ok := fl.Field().Interface().(decimal.Decimal)
		return ok && value.IsPositive()
	}); err != nil {
		return nil, fmt.Errorf("register positive_decimal: %w", err)
	}
	if err := vld.RegisterValidation("minor_units", func(fl validator.FieldLevel) bool {
		value, ok := fl.Field().Interface().(decimal.Decimal)
		return ok && models.InMinorUnits(value)
	}); err != nil {
		return nil, fmt.Errorf("register minor_units: %w", err)
	}
	return vld, nil
}

func getValidator() (*validator.Validate, error) {
	validateOnce.Do(func() {
		validate, errValidate = newValidator()
	})
	return validate, errValidate
}

var fieldMessages = map[string]func(field, param string) string{
	"required": func(field, _ string) string {
		return fmt.Sprintf("Field '%s' is required", field)
	},
	"min": func(field, param string) string {
		return fmt.Sprintf("Field '%s' must be at least %s", field, param)
	},
	"max": func(field, param string) string {
		return fmt.Sprintf("Field '%s' must be at most %s", field, param)
	},
	"len": func(field, param string) string {
		return fmt.Sprintf("Field '%s' must be exactly %s characters", field, param)
	},
	"positive_decimal": func(field, _ string) string {
		return fmt.Sprintf("Field '%s' must be a positive amount", field)
	},
	"minor_units": func(field, _ string) string {
		return fmt.Sprintf("Field '%s' must have at most %d decimal places", field, models.MinorUnits)
	},
}

// validateStruct checks the validate tags of payload and reports the first
// broken rule as INVALID_INPUT.
func validateStruct(payload any) error {
	vld, err := getValidator()
	if err != nil {
		return apperr.Internalf(err, "build validator")
	}
	err = vld.Struct(payload)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperr.Wrap(err, apperr.InvalidInput, "Invalid request")
	}
	fe := fieldErrs[0]
	field := fieldPath(fe.Namespace())
	msg := fmt.Sprintf("Field '%s' failed '%s' check", field, fe.Tag())
	if format, ok := fieldMessages[fe.Tag()]; ok {
		msg = format(field, fe.Param())
	}
	return apperr.WithDetails(apperr.InvalidInput, msg, map[string]any{"field": field, "rule": fe.Tag()})
}

// fieldPath drops the struct name from a validator namespace, for example
// "initiateRequest.beneficiary.account" becomes "beneficiary.account".
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

// parseBody decodes the request body into out and validates it.
func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	return validateStruct(out)
}
