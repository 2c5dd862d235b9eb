package id

import "github.com/google/uuid"

// New returns a random identifier for jobs and sessions.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s looks like an identifier produced by New.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
