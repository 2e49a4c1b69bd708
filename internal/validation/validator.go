package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/olie-orders/internal/apperr"
)

// New returns a validator that reports fields by their JSON names and knows
// the "cep" tag (Brazilian postal code, 8 digits, optional dash).
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("cep", validateCEP)
	v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})

	return v
}

// decimalValue lets numeric tags such as gte compare decimal amounts.
func decimalValue(field reflect.Value) interface{} {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f
	}
	return nil
}

func validateCEP(fl validatorv10.FieldLevel) bool {
	digits := strings.ReplaceAll(fl.Field().String(), "-", "")
	if len(digits) != 8 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Validate runs v over s and returns the first failure as an apperr
// validation error: "<field> is required" for missing fields, "<field> is
// invalid" otherwise.
func Validate(v *validatorv10.Validate, s interface{}) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return apperr.Validation(err.Error())
	}
	fe := ve[0]
	if fe.Tag() == "required" {
		return apperr.Required(fe.Field())
	}
	return apperr.Validation(fmt.Sprintf("%s is invalid", fe.Field()))
}
