package cache

import "strings"

// UserKey is the login profile cache entry for an identifier (email).
func UserKey(identifier string) string {
	return "user:" + strings.ToLower(strings.TrimSpace(identifier))
}

// UserIDKey is the profile cache entry for an account id.
func UserIDKey(id string) string {
	return "user:id:" + id
}

// TokenKey holds the single live credential token of a subject.
func TokenKey(subjectID string) string {
	return "token:" + subjectID
}

// SessionKey holds server-side session state.
func SessionKey(sessionID string) string {
	return "session:" + sessionID
}
