package rpc

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"doctor-booking-api/internal/model"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("role", validateRole)
}

func validateRole(fl validator.FieldLevel) bool {
	return model.Role(fl.Field().String()).Valid()
}

// messages maps "Field.tag" to what the user is told.
var messages = map[string]string{
	"Fullname.required":        "Please input your full name",
	"Email.required":           "Please input your email",
	"Email.email":              "Please input your email",
	"Role.required":            "Please select your role",
	"Role.role":                "Please select your role",
	"Password.required":        "Please input your password",
	"Password.min":             "Your password must be at least 6 characters",
	"ConfirmPassword.required": "Please input your confirm password",
	"ConfirmPassword.eqfield":  "Your confirm password must be matched with your password",
	"Bio.required":             "Please input your bio",
	"Avatar.max":               "Your avatar must be at most 5MB",
	"RefreshToken.required":    "refresh token required",
	"ID.required":              "doctor id required",
	"DoctorID.required":        "Please select a doctor",
	"IdempotencyKey.max":       "idempotency key too long",
}

// Validate checks req and returns the first problem as a user-facing
// message. Fields are checked in declaration order.
func Validate(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	if msg, ok := messages[fe.Field()+"."+fe.Tag()]; ok {
		return errors.New(msg)
	}
	return errors.New(fe.Field() + " is invalid")
}
