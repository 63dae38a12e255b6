package entities

import "errors"

// Error taxonomy shared by transports, the session manager and the HTTP
// layer. Transports classify raw platform errors onto these sentinels so
// nothing upstream has to pattern-match error text.
var (
	// ErrConnection means the remote platform could not be reached.
	ErrConnection = errors.New("cannot reach remote platform")

	// ErrVerificationFailed means the platform rejected the login code.
	// The pending handle survives so the caller can retry.
	ErrVerificationFailed = errors.New("verification code rejected")

	// ErrSessionNotFound means no login flow is in progress for the phone.
	ErrSessionNotFound = errors.New("login session not found")

	// ErrAccountNotConnected means the phone has no live handle.
	ErrAccountNotConnected = errors.New("account not connected")

	// ErrAccessDenied means the caller has no claim on the account.
	ErrAccessDenied = errors.New("no access to this account")

	// ErrAuthRevoked means the platform reported the stored authorization
	// as unregistered or revoked. Triggers the invalidation cascade.
	ErrAuthRevoked = errors.New("session is no longer valid")

	// ErrThrottled means code requests for the phone are arriving faster
	// than the remote platform tolerates.
	ErrThrottled = errors.New("too many code requests")

	// ErrUnsupported means the connected platform has no equivalent of the
	// requested operation.
	ErrUnsupported = errors.New("not supported by this platform")
)
