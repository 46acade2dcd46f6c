package secrets

import "errors"

// Sentinel errors returned by the secrets client.
var (
	// ErrSecretNotFound indicates the secret does not exist.
	ErrSecretNotFound = errors.New("secrets: secret not found")

	// ErrSecretEmpty indicates the secret exists but holds no value.
	ErrSecretEmpty = errors.New("secrets: secret has no value")

	// ErrAccessDenied indicates the caller lacks permission for the
	// operation.
	ErrAccessDenied = errors.New("secrets: access denied")

	// ErrInvalidInput indicates a validation failure on the caller's
	// arguments.
	ErrInvalidInput = errors.New("secrets: invalid input")
)

// IsNotFound reports whether the error indicates a missing secret.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSecretNotFound)
}

// IsAccessDenied reports whether the error indicates a permission failure.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}
