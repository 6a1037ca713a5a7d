package logging

import "fmt"

// TokenConflictError reports that the batch was already accepted under another
// writer's token. Expected is the token the server wants next.
type TokenConflictError struct {
	Expected *string
}

func (e *TokenConflictError) Error() string {
	return fmt.Sprintf("data already accepted, expected sequence token %q", deref(e.Expected))
}

// TokenStaleError reports that the token sent was out of date.
type TokenStaleError struct {
	Expected *string
}

func (e *TokenStaleError) Error() string {
	return fmt.Sprintf("invalid sequence token, expected %q", deref(e.Expected))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
