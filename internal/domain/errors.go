package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrInvalidState      = errors.New("invalid state")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrDuplicateShift    = errors.New("shift already open")
	ErrNoOpenShift       = errors.New("no open shift")
	ErrAmountExceeded    = errors.New("amount exceeds allowed limit")
	ErrOverRefund        = errors.New("refund quantity exceeds refundable quantity")
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConflict marks a unit of work aborted by a concurrent writer; retrying may succeed.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrShiftClosed is also an ErrInvalidState.
	ErrShiftClosed = fmt.Errorf("%w: shift is closed", ErrInvalidState)
)
