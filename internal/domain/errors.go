package domain

import "errors"

// ErrNotFound is returned by stores when no entity matches a lookup.
// Callers that treat "no match" as "insert instead" branch on it with
// errors.Is.
var ErrNotFound = errors.New("not found")
