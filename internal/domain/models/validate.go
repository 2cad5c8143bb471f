package models

import (
	"reflect"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("symbol", func(fl validator.FieldLevel) bool {
		return fl.Field().Kind() == reflect.String && IsValidSymbol(Symbol(fl.Field().String()))
	})
	_ = v.RegisterValidation("timeframe", func(fl validator.FieldLevel) bool {
		return fl.Field().Kind() == reflect.String && IsValidTimeframe(Timeframe(fl.Field().String()))
	})
	return v
}
