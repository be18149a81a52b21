package crawl

import "errors"

// Sentinel errors surfaced across component boundaries. Expected outcomes
// (robots disallowed, duplicate content) are modeled as result values, not
// errors; these cover genuinely exceptional conditions.
var (
	// ErrJobNotFound maps to a 404 at the API boundary.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidConfig maps to a 400 at the API boundary.
	ErrInvalidConfig = errors.New("invalid job config")
	// ErrJobTerminal rejects work assignment to a finished job.
	ErrJobTerminal = errors.New("job is in a terminal state")
)
