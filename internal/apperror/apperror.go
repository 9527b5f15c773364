// Package apperror holds the domain error taxonomy and its HTTP mapping.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation         Code = "validation"
	CodeNotFound           Code = "not_found"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeConflict           Code = "conflict"
	CodeInsufficientFunds  Code = "insufficient_funds"
	CodeExpired            Code = "expired"
	CodeVerificationFailed Code = "verification_failed"
	CodeOutOfStock         Code = "out_of_stock"
	CodeInternal           Code = "internal"
)

// Error is a user visible failure. Message is safe to return to clients.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code, so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

var (
	ErrNotFound            = New(CodeNotFound, "resource not found")
	ErrInsufficientFunds   = New(CodeInsufficientFunds, "insufficient balance")
	ErrExpired             = New(CodeExpired, "payment window has expired")
	ErrVerificationFailed  = New(CodeVerificationFailed, "signature verification failed")
	ErrOutOfStock          = New(CodeOutOfStock, "not enough inventory to fulfill the order")
	ErrPaymentNotConfirmed = New(CodeConflict, "payment has not been confirmed")
	ErrOrderClosed         = New(CodeConflict, "order is cancelled or refunded")
	ErrRefundInProgress    = New(CodeConflict, "a refund request is already open for this order")
	ErrAlreadyRefunded     = New(CodeConflict, "order has already been refunded")
	ErrNotRefundable       = New(CodeValidation, "order has nothing left to refund")
)

// CodeOf extracts the code of err, CodeInternal if err is not a domain error.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized, CodeVerificationFailed:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeConflict, CodeOutOfStock:
		return http.StatusConflict
	case CodeInsufficientFunds:
		return http.StatusPaymentRequired
	case CodeExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
