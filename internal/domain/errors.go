package domain

import "errors"

// Sentinel errors for invalid imagination configuration. These are permanent
// failures; the lifecycle engine does not retry them.
var (
	ErrUnsupportedEngine = errors.New("unsupported generation engine")
	ErrUnsupportedMode   = errors.New("unsupported generation mode")
	ErrMissingTaskID     = errors.New("missing external task id")
)
