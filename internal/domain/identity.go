package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the lifecycle state of a client session.
type Status int

const (
	StatusBootstrapping Status = iota
	StatusAuthenticated
	StatusAnonymous
)

func (s Status) String() string {
	switch s {
	case StatusBootstrapping:
		return "bootstrapping"
	case StatusAuthenticated:
		return "authenticated"
	case StatusAnonymous:
		return "anonymous"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Identity is the signed-in user as reported by whichever identity backend
// produced it. Fields other than ID and Email are passed through untouched.
type Identity struct {
	ID          string         `json:"id"`
	Email       string         `json:"email"`
	DisplayName string         `json:"full_name"`
	Profile     map[string]any `json:"profile,omitempty"`
}

// Name returns the display name, falling back to the email address.
func (i *Identity) Name() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.Email
}

// UnmarshalJSON accepts numeric or string ids and collects unknown fields
// into Profile.
func (i *Identity) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode identity: %w", err)
	}

	out := Identity{Profile: map[string]any{}}
	for key, value := range raw {
		switch key {
		case "id", "uid":
			id, err := decodeID(value)
			if err != nil {
				return err
			}
			out.ID = id
		case "email":
			if err := json.Unmarshal(value, &out.Email); err != nil {
				return fmt.Errorf("decode identity email: %w", err)
			}
		case "full_name", "display_name", "displayName":
			var name *string
			if err := json.Unmarshal(value, &name); err != nil {
				return fmt.Errorf("decode identity name: %w", err)
			}
			if name != nil && out.DisplayName == "" {
				out.DisplayName = *name
			}
		case "profile":
			var nested map[string]any
			if err := json.Unmarshal(value, &nested); err == nil {
				for k, v := range nested {
					out.Profile[k] = v
				}
			}
		default:
			var v any
			if err := json.Unmarshal(value, &v); err != nil {
				return fmt.Errorf("decode identity field %s: %w", key, err)
			}
			if v != nil {
				out.Profile[key] = v
			}
		}
	}

	if len(out.Profile) == 0 {
		out.Profile = nil
	}
	*i = out
	return nil
}

func decodeID(value json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(value, &n); err != nil {
		return "", fmt.Errorf("decode identity id: %w", err)
	}
	return n.String(), nil
}

// Valid reports whether the identity carries the fields an authenticated
// session requires.
func (i *Identity) Valid() bool {
	return i != nil && strings.TrimSpace(i.ID) != "" && strings.TrimSpace(i.Email) != ""
}

// Registration carries the profile fields submitted when creating an account.
type Registration struct {
	Email                 string `json:"email"`
	Password              string `json:"password"`
	FullName              string `json:"full_name"`
	AgeRange              string `json:"age_range,omitempty"`
	CurrentJobRole        string `json:"current_job_role,omitempty"`
	Industry              string `json:"industry,omitempty"`
	EducationalBackground string `json:"educational_background,omitempty"`
	YearsOfExperience     *int   `json:"years_of_experience,omitempty"`
}

// Metadata returns the profile fields as a flat map, omitting empty values.
func (r Registration) Metadata() map[string]any {
	m := map[string]any{}
	if r.FullName != "" {
		m["full_name"] = r.FullName
	}
	if r.AgeRange != "" {
		m["age_range"] = r.AgeRange
	}
	if r.CurrentJobRole != "" {
		m["current_job_role"] = r.CurrentJobRole
	}
	if r.Industry != "" {
		m["industry"] = r.Industry
	}
	if r.EducationalBackground != "" {
		m["educational_background"] = r.EducationalBackground
	}
	if r.YearsOfExperience != nil {
		m["years_of_experience"] = *r.YearsOfExperience
	}
	return m
}
