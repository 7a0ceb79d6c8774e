package rpc

import "doctor-booking-api/internal/model"

type Empty struct{}

type RegisterRequest struct {
	Fullname        string `json:"fullname" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Role            string `json:"role" validate:"required,role"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
	Bio             string `json:"bio" validate:"required"`
	// Avatar is the raw image, base64 in JSON. Optional.
	Avatar          []byte `json:"avatar,omitempty" validate:"max=5242880"`
	AvatarFilename  string `json:"avatarFilename,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type AuthResponse struct {
	AccessToken  string            `json:"accessToken"`
	RefreshToken string            `json:"refreshToken"`
	Profile      model.UserProfile `json:"profile"`

	// ChatAuthToken lets the client's chat SDK sign in; empty when the
	// chat platform could not issue one.
	ChatAuthToken string `json:"chatAuthToken,omitempty"`

	// Warnings lists non-fatal problems, e.g. a failed avatar upload.
	Warnings []string `json:"warnings,omitempty"`
}

type ProfileResponse struct {
	Profile model.UserProfile `json:"profile"`
}

type DoctorsResponse struct {
	Doctors []model.UserProfile `json:"doctors"`
}

type GetDoctorRequest struct {
	ID string `json:"id" validate:"required"`
}

type DoctorResponse struct {
	Doctor model.UserProfile `json:"doctor"`

	// HasAppointment is set for patients who already booked this doctor.
	HasAppointment bool `json:"hasAppointment"`
}

type AppointmentsResponse struct {
	Appointments []model.DisplayAppointment `json:"appointments"`
}

type CreateAppointmentRequest struct {
	DoctorID       string `json:"doctorId" validate:"required"`
	IdempotencyKey string `json:"idempotencyKey,omitempty" validate:"max=128"`
}

type CreateAppointmentResponse struct {
	Appointment model.Appointment `json:"appointment"`
	ChatLinked  bool              `json:"chatLinked"`
	ChatOutcome string            `json:"chatOutcome"`
}
