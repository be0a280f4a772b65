package domain

import "errors"

// Failure taxonomy. Handlers convert these into single wire error lines;
// a domain error never terminates a connection.
var (
	ErrAlreadyConnected   = errors.New("already connected")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotEnoughStock     = errors.New("not enough stock")
	ErrSKUNotFound        = errors.New("sku not found")
	ErrCustomerNotFound   = errors.New("customer not found")
	ErrCustomerExists     = errors.New("customer id already exists")
	ErrUsernameExists     = errors.New("username already exists")
	ErrEmployeeNotFound   = errors.New("employee not found")
	ErrWeakPassword       = errors.New("password does not meet the policy")
	ErrValidation         = errors.New("validation failed")

	// Chat broker conditions.
	ErrRequestUnavailable   = errors.New("request unavailable")
	ErrNotPaired            = errors.New("not paired")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotAllowed           = errors.New("not allowed")
)
