package domain

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one message in a chat transcript.
type Entry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// RecordKind names the opaque document collections the API server keeps per user.
type RecordKind string

const (
	KindAssessment     RecordKind = "assessment"
	KindSkills         RecordKind = "skill_evaluation"
	KindRecommendation RecordKind = "recommendation"
)

// Record is an opaque JSON document owned by a user. The server stores the
// body verbatim and never interprets it.
type Record struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Kind      RecordKind      `json:"kind"`
	Body      json.RawMessage `json:"body"`
	CreatedAt time.Time       `json:"created_at"`
}
