package service

import "errors"

var (
	ErrNotFound                  = errors.New("not_found")
	ErrAlreadyEnrolled           = errors.New("already_enrolled")
	ErrPaymentServiceUnavailable = errors.New("payment_service_unavailable")
	ErrInvalidSignature          = errors.New("invalid_signature")
	ErrPaymentNotConfirmed       = errors.New("payment_not_confirmed")
	ErrInvalidInput              = errors.New("invalid_input")
	ErrEmailTaken                = errors.New("email_taken")
	ErrInvalidCredentials        = errors.New("invalid_credentials")
)
