// Package validation plugs go-playground/validator into echo and adds money
// rules for decimal amounts.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/ehr/clinicbill/internal/platform/apperr"
)

// Validator implements echo.Validator.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names in errors.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Decimals are validated through their string form; validator does not
	// run field tags on struct kinds.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})
	_ = v.RegisterValidation("money_positive", moneyRule(func(d decimal.Decimal) bool { return d.IsPositive() }))
	_ = v.RegisterValidation("money_nonneg", moneyRule(func(d decimal.Decimal) bool { return !d.IsNegative() }))
	_ = v.RegisterValidation("percent", moneyRule(func(d decimal.Decimal) bool {
		return !d.IsNegative() && d.LessThanOrEqual(decimal.NewFromInt(100))
	}))
	return &Validator{v: v}
}

// moneyRule wraps a predicate so it also rejects more than two decimal places.
func moneyRule(ok func(decimal.Decimal) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		if fl.Field().Kind() != reflect.String {
			return false
		}
		d, err := decimal.NewFromString(fl.Field().String())
		if err != nil {
			return false
		}
		return d.Exponent() >= -2 && ok(d)
	}
}

// Validate returns an apperr invalid_input error describing every failed field.
func (cv *Validator) Validate(i interface{}) error {
	err := cv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.KindInvalidInput, err, "invalid request")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, message(fe))
	}
	return apperr.Wrap(apperr.KindInvalidInput, err, "%s", strings.Join(msgs, "; "))
}

func message(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "money_positive":
		return fmt.Sprintf("%s must be a positive amount with at most 2 decimal places", field)
	case "money_nonneg":
		return fmt.Sprintf("%s must be a non-negative amount with at most 2 decimal places", field)
	case "percent":
		return fmt.Sprintf("%s must be between 0 and 100", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}
