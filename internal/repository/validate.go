package repository

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/universalathletics/inbox/internal/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateParticipant(field string, p models.Participant) error {
	if strings.TrimSpace(p.FirebaseID) == "" {
		return newValidationError(field+".firebaseId", "required")
	}

	if err := validate.Struct(p); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return newValidationError(field+"."+fieldErrs[0].Field(), fieldErrs[0].Tag())
		}
		return newValidationError(field, err.Error())
	}
	return nil
}
