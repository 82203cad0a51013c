package selector

import "errors"

// Service errors
var (
	ErrNoEligibleAccount = errors.New("no eligible account")
	ErrPoolNotFound      = errors.New("pool not found")
	ErrAccountNotFound   = errors.New("account not found")
)
