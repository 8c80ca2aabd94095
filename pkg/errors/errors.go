package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation              Code = "VALIDATION_ERROR"
	CodeNotFound                Code = "NOT_FOUND"
	CodeConflict                Code = "CONFLICT"
	CodeStateConflict           Code = "STATE_CONFLICT"
	CodeInternal                Code = "INTERNAL_ERROR"
	CodeDependency              Code = "DEPENDENCY_ERROR"
	CodeInsufficientInventory   Code = "INSUFFICIENT_INVENTORY"
	CodeInsufficientReservation Code = "INSUFFICIENT_RESERVATION"
	CodeNegativeInventory       Code = "NEGATIVE_INVENTORY"
	CodeInvalidTransition       Code = "INVALID_TRANSITION"
	CodeCouponInvalid           Code = "COUPON_INVALID"
	CodeNoValidSellers          Code = "NO_VALID_SELLERS"
	CodeAlreadyProcessed        Code = "ALREADY_PROCESSED"
	CodeDuplicateRequest        Code = "DUPLICATE_REQUEST"
	CodeGateway                 Code = "GATEWAY_ERROR"
	CodeInvalidRate             Code = "INVALID_RATE"
	CodeRefundLimitExceeded     Code = "REFUND_LIMIT_EXCEEDED"
	CodeNotEligible             Code = "NOT_ELIGIBLE"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation: {
		HTTPStatus:     http.StatusBadRequest,
		PublicMessage:  "validation failed",
		DetailsAllowed: true,
	},
	CodeNotFound: {
		HTTPStatus:    http.StatusNotFound,
		PublicMessage: "resource not found",
	},
	CodeConflict: {
		HTTPStatus:    http.StatusConflict,
		PublicMessage: "conflict detected",
	},
	CodeStateConflict: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		PublicMessage:  "state transition disallowed",
		DetailsAllowed: true,
	},
	CodeInternal: {
		HTTPStatus:    http.StatusInternalServerError,
		Retryable:     true,
		PublicMessage: "internal server error",
	},
	CodeDependency: {
		HTTPStatus:    http.StatusServiceUnavailable,
		Retryable:     true,
		PublicMessage: "dependency unavailable",
	},
	CodeInsufficientInventory: {
		HTTPStatus:     http.StatusConflict,
		PublicMessage:  "insufficient inventory",
		DetailsAllowed: true,
	},
	CodeInsufficientReservation: {
		HTTPStatus:     http.StatusConflict,
		PublicMessage:  "insufficient reservation",
		DetailsAllowed: true,
	},
	CodeNegativeInventory: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		PublicMessage:  "inventory cannot go negative",
		DetailsAllowed: true,
	},
	CodeInvalidTransition: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		PublicMessage:  "status transition not allowed",
		DetailsAllowed: true,
	},
	CodeCouponInvalid: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		PublicMessage:  "coupon cannot be applied",
		DetailsAllowed: true,
	},
	CodeNoValidSellers: {
		HTTPStatus:    http.StatusUnprocessableEntity,
		PublicMessage: "order has no valid sellers",
	},
	CodeAlreadyProcessed: {
		HTTPStatus:     http.StatusConflict,
		PublicMessage:  "request already processed",
		DetailsAllowed: true,
	},
	CodeDuplicateRequest: {
		HTTPStatus:     http.StatusConflict,
		PublicMessage:  "duplicate request",
		DetailsAllowed: true,
	},
	CodeGateway: {
		HTTPStatus:    http.StatusBadGateway,
		Retryable:     true,
		PublicMessage: "payment gateway error",
	},
	CodeInvalidRate: {
		HTTPStatus:     http.StatusBadRequest,
		PublicMessage:  "invalid commission rate",
		DetailsAllowed: true,
	},
	CodeRefundLimitExceeded: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		PublicMessage:  "refund exceeds paid amount",
		DetailsAllowed: true,
	},
	CodeNotEligible: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		PublicMessage:  "request not eligible",
		DetailsAllowed: true,
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code      Code
	message   string
	details   any
	cause     error
	retryable *bool
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

// WithRetryable overrides the code-level retry hint for this instance.
func (e *Error) WithRetryable(retryable bool) *Error {
	if e == nil {
		return nil
	}
	e.retryable = &retryable
	return e
}

// Retryable reports whether the caller may retry the failed operation.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return MetadataFor(e.code).Retryable
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}

// IsRetryable reports whether err is a typed error flagged as retryable.
func IsRetryable(err error) bool {
	typed := As(err)
	return typed != nil && typed.Retryable()
}
