package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind classifies where an error came from.
type Kind string

const (
	KindStorage    Kind = "storage"
	KindStorefront Kind = "storefront"
	KindConflict   Kind = "conflict"
	KindValidation Kind = "validation"
	KindInternal   Kind = "internal"
)

// Error represents an application error
type Error struct {
	Code    int    `json:"code"`
	Kind    Kind   `json:"kind"`
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

// JSON returns the error as a JSON string
func (e *Error) JSON() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// New creates a new Error
func New(code int, kind Kind, message string, err error) *Error {
	return &Error{
		Code:    code,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Storage wraps a failure of the local catalog store.
func Storage(message string, err error) *Error {
	return New(http.StatusServiceUnavailable, KindStorage, message, err)
}

// Storefront wraps a failure reported by, or while talking to, the storefront API.
func Storefront(message string, err error) *Error {
	return New(http.StatusBadGateway, KindStorefront, message, err)
}

// Conflict reports an operation that cannot run right now.
func Conflict(message string) *Error {
	return New(http.StatusConflict, KindConflict, message, nil)
}

// Validation reports bad caller input.
func Validation(message string, err error) *Error {
	return New(http.StatusBadRequest, KindValidation, message, err)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsStorage reports whether err, or any error it wraps, is a storage error.
func IsStorage(err error) bool {
	return hasKind(err, KindStorage)
}

// IsStorefront reports whether err, or any error it wraps, is a storefront error.
func IsStorefront(err error) bool {
	return hasKind(err, KindStorefront)
}

// hasKind walks every branch of the chain, including multi-error wrappers.
func hasKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	if appErr, ok := err.(*Error); ok && appErr.Kind == kind {
		return true
	}
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			if hasKind(e, kind) {
				return true
			}
		}
	case interface{ Unwrap() error }:
		return hasKind(u.Unwrap(), kind)
	}
	return false
}

// As converts err into an *Error, defaulting to a 500.
func As(err error) *Error {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return New(http.StatusInternalServerError, KindInternal, "Internal server error", err)
}

// ErrorMiddleware renders the last error attached to the gin context. Code and kind come
// from the first *Error in its chain, the message from the whole chain.
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err
			appErr := As(err)
			c.JSON(appErr.Code, gin.H{
				"code":    appErr.Code,
				"kind":    appErr.Kind,
				"message": err.Error(),
			})
			c.Abort()
		}
	}
}
