package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind classifies an application error.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindCoupon             Kind = "coupon"
	KindUnknownTransaction Kind = "unknown_transaction"
	KindInvalidTransition  Kind = "invalid_transition"
	KindNotEligible        Kind = "not_eligible"
	KindNotFound           Kind = "not_found"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindTransient          Kind = "transient"
	KindInternal           Kind = "internal"
)

var kindStatus = map[Kind]int{
	KindValidation:         http.StatusBadRequest,
	KindCoupon:             http.StatusUnprocessableEntity,
	KindUnknownTransaction: http.StatusNotFound,
	KindInvalidTransition:  http.StatusConflict,
	KindNotEligible:        http.StatusConflict,
	KindNotFound:           http.StatusNotFound,
	KindUnauthorized:       http.StatusUnauthorized,
	KindForbidden:          http.StatusForbidden,
	KindTransient:          http.StatusServiceUnavailable,
	KindInternal:           http.StatusInternalServerError,
}

// Error represents an application error
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    int    `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind, and on Reason when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// JSON returns the error as a JSON string
func (e *Error) JSON() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// New creates a new Error
func New(kind Kind, message string, err error) *Error {
	code, ok := kindStatus[kind]
	if !ok {
		code = http.StatusInternalServerError
	}
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithReason returns a copy of e carrying a sub-reason.
func (e *Error) WithReason(reason string) *Error {
	cp := *e
	cp.Reason = reason
	return &cp
}

// Sentinels for errors.Is.
var (
	ErrValidation         = New(KindValidation, "Validation error", nil)
	ErrCoupon             = New(KindCoupon, "Coupon cannot be applied", nil)
	ErrUnknownTransaction = New(KindUnknownTransaction, "Unknown payment transaction", nil)
	ErrInvalidTransition  = New(KindInvalidTransition, "Invalid order transition", nil)
	ErrNotEligible        = New(KindNotEligible, "Order not eligible", nil)
	ErrNotFound           = New(KindNotFound, "Not found", nil)
	ErrUnauthorized       = New(KindUnauthorized, "Unauthorized", nil)
	ErrForbidden          = New(KindForbidden, "Forbidden", nil)
	ErrTransient          = New(KindTransient, "Service temporarily unavailable", nil)
	ErrInternalServer     = New(KindInternal, "Internal server error", nil)
)

// Coupon rejection reasons.
const (
	CouponNotFound          = "not_found"
	CouponExpired           = "expired"
	CouponUsageLimitReached = "usage_limit_reached"
	CouponBelowMinimumSpend = "below_minimum_spend"
	CouponNotApplicable     = "not_applicable_to_cart"
)

func Validation(message string) *Error {
	return New(KindValidation, message, nil)
}

func Coupon(reason, message string) *Error {
	return New(KindCoupon, message, nil).WithReason(reason)
}

func UnknownTransaction(ref string) *Error {
	return New(KindUnknownTransaction, fmt.Sprintf("no payment transaction for %q", ref), nil)
}

// InvalidTransition names the attempted transition and the state that refused it.
func InvalidTransition(transition, current string) *Error {
	return New(KindInvalidTransition,
		fmt.Sprintf("cannot %s order in status %s", transition, current), nil).WithReason(transition)
}

func NotEligible(message string) *Error {
	return New(KindNotEligible, message, nil)
}

func NotFound(message string) *Error {
	return New(KindNotFound, message, nil)
}

func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message, nil)
}

func Forbidden(message string) *Error {
	return New(KindForbidden, message, nil)
}

func Transient(message string, err error) *Error {
	return New(KindTransient, message, err)
}

func Internal(message string, err error) *Error {
	return New(KindInternal, message, err)
}

// From returns err as an *Error, wrapping unknown errors as internal.
func From(err error) *Error {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Internal("Internal server error", err)
}

// HandleError writes err to w as JSON.
func HandleError(w http.ResponseWriter, err error) {
	appErr := From(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Code)
	w.Write([]byte(appErr.JSON()))
}

// Respond writes err as the gin response body.
func Respond(c *gin.Context, err error) {
	appErr := From(err)
	body := gin.H{"error": appErr.Message, "kind": appErr.Kind}
	if appErr.Reason != "" {
		body["reason"] = appErr.Reason
	}
	c.AbortWithStatusJSON(appErr.Code, body)
}

// Error middleware for Gin
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			Respond(c, c.Errors.Last().Err)
		}
	}
}
