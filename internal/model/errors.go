package model

import "errors"

// ErrMalformedEvent marks a log or payload that cannot be applied. The event
// is skipped and the stream continues.
var ErrMalformedEvent = errors.New("malformed event")
