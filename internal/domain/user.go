// Package domain contains core domain types for the careerguide application.
package domain

import (
	"strconv"
	"time"
)

// User is an account record held by the API server.
type User struct {
	ID                    int64     `json:"id"`
	Email                 string    `json:"email"`
	FullName              string    `json:"full_name"`
	PasswordHash          string    `json:"-"`
	AgeRange              string    `json:"age_range,omitempty"`
	CurrentJobRole        string    `json:"current_job_role,omitempty"`
	Industry              string    `json:"industry,omitempty"`
	EducationalBackground string    `json:"educational_background,omitempty"`
	YearsOfExperience     *int      `json:"years_of_experience,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// Identity projects the account into the shape the session layer consumes.
func (u *User) Identity() Identity {
	id := Identity{
		ID:          strconv.FormatInt(u.ID, 10),
		Email:       u.Email,
		DisplayName: u.FullName,
		Profile:     map[string]any{},
	}
	if u.AgeRange != "" {
		id.Profile["age_range"] = u.AgeRange
	}
	if u.CurrentJobRole != "" {
		id.Profile["current_job_role"] = u.CurrentJobRole
	}
	if u.Industry != "" {
		id.Profile["industry"] = u.Industry
	}
	if u.EducationalBackground != "" {
		id.Profile["educational_background"] = u.EducationalBackground
	}
	if u.YearsOfExperience != nil {
		id.Profile["years_of_experience"] = *u.YearsOfExperience
	}
	return id
}

// AccessToken is an opaque bearer token issued by the API server.
type AccessToken struct {
	Value     string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the token is no longer valid at now.
func (t *AccessToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
