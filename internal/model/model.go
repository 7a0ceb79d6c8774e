package model

import "time"

type Role string

const (
	RolePatient Role = "Patient"
	RoleDoctor  Role = "Doctor"
)

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

// UserProfile is the public record stored under users/{id}.
type UserProfile struct {
	ID       string `json:"id"`
	Fullname string `json:"fullname"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	Bio      string `json:"bio"`
	Avatar   string `json:"avatar,omitempty"`
}

// Account holds login credentials. It never leaves the server.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

// Appointment is stored under appointments/{id}. Both parties' display
// fields are copied at creation and never re-resolved.
type Appointment struct {
	ID           string `json:"id"`
	PatientID    string `json:"patientId"`
	PatientName  string `json:"patientName"`
	PatientImage string `json:"patientImage"`
	PatientBio   string `json:"patientBio"`
	DoctorID     string `json:"doctorId"`
	DoctorName   string `json:"doctorName"`
	DoctorImage  string `json:"doctorImage"`
	DoctorBio    string `json:"doctorBio"`
}

// DisplayAppointment is the other party of an appointment, as seen by the viewer.
type DisplayAppointment struct {
	AppointmentID string `json:"appointmentId"`
	ID            string `json:"id"`
	Fullname      string `json:"fullname"`
	Avatar        string `json:"avatar"`
	Bio           string `json:"bio"`
}

func NewAppointment(id string, patient, doctor UserProfile) Appointment {
	return Appointment{
		ID:           id,
		PatientID:    patient.ID,
		PatientName:  patient.Fullname,
		PatientImage: patient.Avatar,
		PatientBio:   patient.Bio,
		DoctorID:     doctor.ID,
		DoctorName:   doctor.Fullname,
		DoctorImage:  doctor.Avatar,
		DoctorBio:    doctor.Bio,
	}
}

// Project shows a patient the doctor's fields and a doctor the patient's.
func Project(a Appointment, viewer Role) DisplayAppointment {
	if viewer == RolePatient {
		return DisplayAppointment{
			AppointmentID: a.ID,
			ID:            a.DoctorID,
			Fullname:      a.DoctorName,
			Avatar:        a.DoctorImage,
			Bio:           a.DoctorBio,
		}
	}
	return DisplayAppointment{
		AppointmentID: a.ID,
		ID:            a.PatientID,
		Fullname:      a.PatientName,
		Avatar:        a.PatientImage,
		Bio:           a.PatientBio,
	}
}
