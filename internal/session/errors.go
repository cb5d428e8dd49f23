package session

import "errors"

// errNotRecoverable marks a recovery attempt the backend answered but could
// not satisfy (no matching session for the email).
var errNotRecoverable = errors.New("not found or not associated with this email")
