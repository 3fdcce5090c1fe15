package middleware

import (
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	apperrors "github.com/jwalitptl/notification-service/pkg/errors"
)

var validationMessages = map[string]string{
	"required":      "is required",
	"uuid":          "must be a valid UUID",
	"min":           "is too small",
	"max":           "is too large",
	"gte":           "is too small",
	"lte":           "is too large",
	"notblank":      "must not be blank",
	"excluded_with": "cannot be combined with another parameter",
}

var registerOnce sync.Once

// RegisterValidation makes validator report JSON/query field names and adds
// the notblank rule. Safe to call more than once.
func RegisterValidation() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, tag := range []string{"json", "form", "uri"} {
				name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
				if name == "-" {
					return fld.Name
				}
				if name != "" {
					return name
				}
			}
			return fld.Name
		})
		_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
	})
}

func fieldErrors(errs validator.ValidationErrors) []apperrors.FieldError {
	out := make([]apperrors.FieldError, 0, len(errs))
	for _, e := range errs {
		msg := validationMessages[e.Tag()]
		if msg == "" {
			msg = "failed on the '" + e.Tag() + "' rule"
		}
		out = append(out, apperrors.FieldError{
			Field:   e.Field(),
			Message: msg,
		})
	}
	return out
}
