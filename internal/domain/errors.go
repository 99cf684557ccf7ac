package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrNoProvider = errors.New("no provider available")
	ErrAuth       = errors.New("credential unavailable")
	ErrTimeout    = errors.New("upstream timeout")
	ErrUpstream   = errors.New("upstream failure")
	ErrStorage    = errors.New("durable storage failure")
	ErrConflict   = errors.New("state conflict")
)

func requiredField(name string) error {
	return fmt.Errorf("%w: missing required field %q", ErrValidation, name)
}

func unknownJobType(t string) error {
	return fmt.Errorf("%w: unknown job type %q", ErrValidation, t)
}
