package raysharp

import "errors"

var (
	// ErrAuth is returned after digest login is rejected, or after the
	// retry-once path hits a second 401. Callers should stop issuing
	// requests until credentials are fixed.
	ErrAuth = errors.New("raysharp: authentication failed")

	// ErrUnreachable covers transport errors, timeouts and non-2xx
	// statuses other than 401.
	ErrUnreachable = errors.New("raysharp: device unreachable")

	// ErrUnsupported is returned without a network call when a command
	// targets a capability the channel does not expose.
	ErrUnsupported = errors.New("raysharp: capability not supported")

	// ErrUnknownChannel is returned when a channel id does not reference
	// a channel reported by the device.
	ErrUnknownChannel = errors.New("raysharp: unknown channel")

	// ErrBadResponse is returned when the device answers 200 with a body
	// that cannot be decoded.
	ErrBadResponse = errors.New("raysharp: malformed device response")
)
