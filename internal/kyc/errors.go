package kyc

import "errors"

var (
	// ErrInvalidNonce is returned when a login message carries an unknown,
	// expired, or already-consumed nonce.
	ErrInvalidNonce = errors.New("invalid nonce")

	// ErrInvalidSignature is returned when the login signature does not
	// recover the claimed wallet.
	ErrInvalidSignature = errors.New("invalid login signature")

	// ErrInvalidWebhookSignature is returned when the HMAC over the webhook
	// payload does not verify.
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrStaleWebhook is returned when the signed timestamp is outside the
	// accepted skew window.
	ErrStaleWebhook = errors.New("webhook timestamp outside accepted window")

	// ErrMalformedWebhook is returned for payloads missing required identity
	// fields.
	ErrMalformedWebhook = errors.New("malformed webhook payload")

	// ErrProviderUnavailable wraps provider/network failures. Callers treat
	// it as retryable.
	ErrProviderUnavailable = errors.New("verification provider unavailable")

	// ErrInvalidToken is returned when a session bearer token fails
	// verification.
	ErrInvalidToken = errors.New("invalid session token")
)
