package app

import "errors"

// Sentinel errors returned by the portal core. The HTTP layer maps these to
// status codes; everything else is a 500.
var (
	// ErrInvalidEmail reports a syntactically invalid email address.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrEmailNotRecognized reports that the email has no portal account and
	// implicit provisioning is disabled.
	ErrEmailNotRecognized = errors.New("email not recognized")

	// ErrInvalidCode covers every code verification failure: wrong code,
	// expired code, already-used code, or no code issued. Callers get one
	// error so responses do not leak which case occurred.
	ErrInvalidCode = errors.New("invalid or expired code")

	// ErrNotifierUnavailable reports that the login code could not be
	// delivered. The code row is already replaced when this is returned.
	ErrNotifierUnavailable = errors.New("could not send login code")

	// ErrFileNotFound covers both a missing metadata row and a file owned by
	// someone else, so responses do not reveal other users' file IDs.
	ErrFileNotFound = errors.New("file not found")
)
