package domain

import (
	"errors"
	"fmt"
)

// Error kinds returned by the escrow engine. Handlers map these to HTTP
// statuses; the kind string is part of the API response.
const (
	KindValidation              = "validation_error"
	KindRateLimited             = "rate_limited"
	KindInvalidTransition       = "invalid_transition"
	KindAmountMismatch          = "amount_mismatch"
	KindDuplicateTransaction    = "duplicate_transaction"
	KindInvalidDeliveryCode     = "invalid_delivery_code"
	KindOrderLocked             = "order_locked"
	KindNotFound                = "not_found"
	KindProviderUnavailable     = "provider_unavailable"
	KindReconciliationExhausted = "reconciliation_exhausted"
	KindInternal                = "internal_error"
)

// Error is the machine-readable failure carried across the service boundary.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func NewError(kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func ValidationErr(format string, args ...any) *Error {
	return NewError(KindValidation, format, args...)
}

func NotFoundErr(format string, args ...any) *Error {
	return NewError(KindNotFound, format, args...)
}

func InvalidTransitionErr(format string, args ...any) *Error {
	return NewError(KindInvalidTransition, format, args...)
}

// KindOf extracts the error kind, defaulting to internal_error for plain errors.
func KindOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind string) bool {
	return KindOf(err) == kind
}
