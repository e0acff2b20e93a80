package service

import "errors"

var (
	ErrNotFound      = errors.New("url not found")
	ErrExpired       = errors.New("url has expired")
	ErrForbidden     = errors.New("not allowed to access this url")
	ErrConflict      = errors.New("custom short code already in use")
	ErrInvalidURL    = errors.New("invalid url format")
	ErrInvalidCode   = errors.New("invalid custom short code")
	ErrInvalidExpiry = errors.New("expiry date must be in the future")
)
