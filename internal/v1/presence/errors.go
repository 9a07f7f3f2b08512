package presence

import "errors"

// ErrNotPresent is returned when the user has no presence entry.
var ErrNotPresent = errors.New("presence: user not present")
