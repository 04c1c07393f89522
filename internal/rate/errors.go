package rate

import "errors"

var (
	// ErrStoreUnavailable wraps counter store failures. Allow never returns
	// it; it is reported through Decision.Err and the degraded hook.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid rate limit config")
)
