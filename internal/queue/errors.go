package queue

import "fmt"

// ValidationError rejects a malformed message before it reaches the
// stream. Field names the first offending field in wire terms.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid dispatch message: %s %s", e.Field, e.Reason)
}
