package conversation

import "github.com/google/uuid"

// Session identifies one process lifetime to the backend. It is created
// once at startup and never mutated.
type Session struct {
	ID           string
	StudentLevel string
}

// NewSession mints a fresh session with the given proficiency tier.
func NewSession(studentLevel string) Session {
	if studentLevel == "" {
		studentLevel = "beginner"
	}
	return Session{
		ID:           uuid.NewString(),
		StudentLevel: studentLevel,
	}
}
