package service

import "errors"

// Error kinds. Handlers map them to HTTP status codes with errors.Is.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not found")
)

var (
	ErrInvalidPhone      = newError(ErrInvalidRequest, "Invalid phone number")
	ErrInvalidWallet     = newError(ErrInvalidRequest, "Invalid wallet address")
	ErrInvalidAdminCode  = newError(ErrInvalidRequest, "Invalid admin code")
	ErrNoBackupForWallet = newError(ErrInvalidRequest, "No backup found for this wallet and phone number")
	ErrInvalidSession    = newError(ErrUnauthorized, "Invalid session")
	ErrSessionExpired    = newError(ErrUnauthorized, "Session expired")
	ErrInvalidKeyshare   = newError(ErrUnauthorized, "Invalid keyshare or phone number")
	ErrBackupNotFound    = newError(ErrNotFound, "Keyless backup not found")
	ErrMissingMnemonic   = newError(ErrInvalidRequest, "encryptedMnemonic is required")
)

// Error is a client-facing failure of a given kind. Its message is safe to
// return to callers.
type Error struct {
	Kind    error
	Message string
}

func newError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// InvalidRequest reports a client error carrying message.
func InvalidRequest(message string) error {
	return newError(ErrInvalidRequest, message)
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }
