package auth

import "errors"

var (
	// ErrInvalidCredentials covers unknown emails and wrong passwords alike,
	// so callers cannot probe which operator accounts exist.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrOperatorInactive is returned when a suspended operator signs in
	// with otherwise valid credentials.
	ErrOperatorInactive = errors.New("operator account inactive")

	// ErrInvalidToken is returned for refresh tokens that fail to parse,
	// reference a missing operator, or carry a stale token version.
	ErrInvalidToken = errors.New("invalid refresh token")

	// ErrWeakPassword is returned when a new password misses the policy.
	ErrWeakPassword = errors.New("password must be at least 8 characters and contain a special character")

	// ErrEmailTaken is returned when creating an operator with an email
	// that is already registered.
	ErrEmailTaken = errors.New("email already in use")

	// ErrUnknownRole is returned when creating an operator with a role
	// outside the known set.
	ErrUnknownRole = errors.New("unknown operator role")

	// ErrInvalidServiceKey covers malformed, unknown and mismatched keys.
	ErrInvalidServiceKey = errors.New("invalid service key")

	// ErrServiceKeyRevoked is returned for keys that were withdrawn.
	ErrServiceKeyRevoked = errors.New("service key revoked")
)
