package validation

import (
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	dateLayout = "2006-01-02"

	// AmountPlaces is the scale of every stored money column.
	AmountPlaces = 2
)

// Validator wraps the go-playground validator with ledger-specific rules.
type Validator struct {
	validate *validator.Validate
}

// GetValidate returns the underlying validator.Validate instance for use with Echo
func (v *Validator) GetValidate() *validator.Validate {
	return v.validate
}

func (v *Validator) Struct(s interface{}) error {
	return v.validate.Struct(s)
}

var (
	instance *Validator
	once     sync.Once
)

// GetValidator returns the shared validator instance.
func GetValidator() *Validator {
	once.Do(func() {
		instance = NewValidator()
	})
	return instance
}

func NewValidator() *Validator {
	v := validator.New()

	// decimals validate as their exact string form
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})

	_ = v.RegisterValidation("positive_amount", validatePositiveAmount)
	_ = v.RegisterValidation("non_negative_amount", validateNonNegativeAmount)
	_ = v.RegisterValidation("transaction_type", validateTransactionType)
	_ = v.RegisterValidation("calendar_date", validateCalendarDate)
	_ = v.RegisterValidation("not_blank", validateNotBlank)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{validate: v}
}

// FitsAmountScale reports whether d survives a round trip through a
// decimal(20,2) column unchanged.
func FitsAmountScale(d decimal.Decimal) bool {
	return d.Equal(d.Round(AmountPlaces))
}

func amountOf(fl validator.FieldLevel) (decimal.Decimal, bool) {
	field := fl.Field()
	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return decimal.NewFromInt(field.Int()), true
	case reflect.Float32, reflect.Float64:
		return decimal.NewFromFloat(field.Float()), true
	case reflect.String:
		d, err := decimal.NewFromString(field.String())
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

func validatePositiveAmount(fl validator.FieldLevel) bool {
	amount, ok := amountOf(fl)
	return ok && amount.IsPositive() && FitsAmountScale(amount)
}

func validateNonNegativeAmount(fl validator.FieldLevel) bool {
	amount, ok := amountOf(fl)
	return ok && !amount.IsNegative() && FitsAmountScale(amount)
}

func validateTransactionType(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "deposit", "withdrawal":
		return true
	default:
		return false
	}
}

// validateCalendarDate accepts YYYY-MM-DD dates that exist on the calendar.
func validateCalendarDate(fl validator.FieldLevel) bool {
	_, err := time.Parse(dateLayout, fl.Field().String())
	return err == nil
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}
