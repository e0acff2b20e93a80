package service

import "errors"

var (
	ErrNotFound           = errors.New("user not found")
	ErrConflict           = errors.New("user with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidRole        = errors.New("invalid role")
	ErrForbidden          = errors.New("operation not allowed")
)
