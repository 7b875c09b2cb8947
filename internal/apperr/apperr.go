// Package apperr defines the error kinds returned across the order engine's public contract.
package apperr

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/gofiber/fiber/v2"
)

// Kind classifies an error for callers and for HTTP mapping.
type Kind string

const (
	KindUnauthenticated        Kind = "UNAUTHENTICATED"
	KindForbidden              Kind = "FORBIDDEN"
	KindNotFound               Kind = "NOT_FOUND"
	KindInvalidStateTransition Kind = "INVALID_STATE_TRANSITION"
	KindAlreadyClaimed         Kind = "ALREADY_CLAIMED"
	KindPartnerBusy            Kind = "PARTNER_BUSY"
	KindValidation             Kind = "VALIDATION"
	KindConflict               Kind = "CONFLICT"
	KindUnavailable            Kind = "UNAVAILABLE"
	KindInternal               Kind = "INTERNAL"
)

// Error is a classified error. Message is safe to show to callers.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrUnauthenticated        = &Error{Kind: KindUnauthenticated, Message: "unauthenticated"}
	ErrForbidden              = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrNotFound               = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidStateTransition = &Error{Kind: KindInvalidStateTransition, Message: "invalid state transition"}
	ErrAlreadyClaimed         = &Error{Kind: KindAlreadyClaimed, Message: "order already claimed"}
	ErrPartnerBusy            = &Error{Kind: KindPartnerBusy, Message: "delivery partner already has an active order"}
	ErrValidation             = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrConflict               = &Error{Kind: KindConflict, Message: "conflict"}
	ErrUnavailable            = &Error{Kind: KindUnavailable, Message: "storage unavailable"}
)

// New builds an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the kind of err, KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Storage classifies a raw storage error: connectivity problems become
// KindUnavailable, anything else KindInternal.
func Storage(err error, format string, args ...any) *Error {
	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.As(err, &netErr):
		return Wrap(KindUnavailable, err, format, args...)
	}
	return Wrap(KindInternal, err, format, args...)
}

// HTTPStatus maps a kind to the response status used by the handlers.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthenticated:
		return fiber.StatusUnauthorized
	case KindForbidden:
		return fiber.StatusForbidden
	case KindNotFound:
		return fiber.StatusNotFound
	case KindInvalidStateTransition, KindAlreadyClaimed, KindPartnerBusy, KindConflict:
		return fiber.StatusConflict
	case KindValidation:
		return fiber.StatusBadRequest
	case KindUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
