package domain

import (
	"strings"
	"time"
)

// DialysisType selects which exchange form the patient logs.
type DialysisType string

const (
	DialysisPD DialysisType = "PD"
	DialysisHD DialysisType = "HD"
)

func (d DialysisType) Valid() bool { return d == DialysisPD || d == DialysisHD }

// User an authenticated account
type User struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Patient owns every exchange record. AuthID links it to a User.
type Patient struct {
	PatientID    string       `json:"patient_id"`
	AuthID       string       `json:"auth_id"`
	Username     string       `json:"username"`
	DialysisType DialysisType `json:"dialysis_type"`
	CreatedAt    time.Time    `json:"created_at"`
}

// FirstName returns the first word of Username, or "Patient".
func (p *Patient) FirstName() string {
	if p == nil {
		return "Patient"
	}
	if fields := strings.Fields(p.Username); len(fields) > 0 {
		return fields[0]
	}
	return "Patient"
}
