package artifacts

import "errors"

// ErrNoteNotFound is returned when the author has no note for the session.
var ErrNoteNotFound = errors.New("artifacts: note not found")
