package middleware

import (
	"errors"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/interfaces/http/dto"
)

// SetupValidator reports fields by their JSON or form names and registers the
// points enum tags: event_type, ledger_type, grant_type, target_type.
func SetupValidator() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			name = strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		}
		return name
	})
	_ = v.RegisterValidation("event_type", enumTag(func(s string) bool { return points.EventType(s).IsValid() }))
	_ = v.RegisterValidation("ledger_type", enumTag(func(s string) bool { return points.LedgerType(s).IsValid() }))
	_ = v.RegisterValidation("grant_type", enumTag(func(s string) bool { return points.GrantType(s).IsValid() }))
	_ = v.RegisterValidation("target_type", enumTag(func(s string) bool { return points.TargetType(s).IsValid() }))
}

func enumTag(valid func(string) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return valid(fl.Field().String())
	}
}

// ValidationDetails converts binding errors into per-field details. It returns
// nil for errors that are not validator errors, such as malformed JSON.
func ValidationDetails(err error) []dto.ValidationDetail {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make([]dto.ValidationDetail, 0, len(verrs))
	for _, e := range verrs {
		details = append(details, dto.ValidationDetail{
			Field:   e.Field(),
			Message: validationMessage(e),
		})
	}
	return details
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "min":
		if e.Kind() == reflect.String {
			return "Must be at least " + e.Param() + " characters"
		}
		return "Must be at least " + e.Param()
	case "max":
		if e.Kind() == reflect.String {
			return "Must be at most " + e.Param() + " characters"
		}
		return "Must be at most " + e.Param()
	case "gt":
		return "Must be greater than " + e.Param()
	case "gte":
		return "Must be greater than or equal to " + e.Param()
	case "oneof":
		return "Must be one of: " + e.Param()
	case "uuid":
		return "Invalid UUID format"
	case "dive":
		return "Invalid element"
	case "event_type", "ledger_type", "grant_type", "target_type":
		return "Unknown " + strings.ReplaceAll(e.Tag(), "_", " ")
	default:
		return "Invalid value"
	}
}
