package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"
)

// Kind identifies what went wrong, independent of how it should be handled.
type Kind string

const (
	KindTransientNetwork  Kind = "transient_network"
	KindPermanentClient   Kind = "permanent_client"
	KindPaginationAnomaly Kind = "pagination_anomaly"
	KindFilesystem        Kind = "filesystem"
	KindCancelled         Kind = "cancelled"
)

// Class decides whether a failure is worth another attempt.
type Class string

const (
	ClassTransient Class = "transient"
	ClassPermanent Class = "permanent"
)

// Error is the typed error carried through the pipeline.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	StatusCode int
	// RetryAfter is set when the server asked us to wait (HTTP 429).
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s error (status %d): %s", e.Op, e.Kind, e.StatusCode, msg)
	}
	if e.Op == "" {
		return fmt.Sprintf("%s error: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Class reports the failure class of this error.
func (e *Error) Class() Class {
	if e.Kind == KindTransientNetwork {
		return ClassTransient
	}
	return ClassPermanent
}

func Transient(op, message string, err error) *Error {
	return &Error{Kind: KindTransientNetwork, Op: op, Message: message, Err: err}
}

func Permanent(op, message string, err error) *Error {
	return &Error{Kind: KindPermanentClient, Op: op, Message: message, Err: err}
}

func Anomaly(op, message string) *Error {
	return &Error{Kind: KindPaginationAnomaly, Op: op, Message: message}
}

func Filesystem(op string, err error) *Error {
	return &Error{Kind: KindFilesystem, Op: op, Err: err}
}

func Cancelled(op string, err error) *Error {
	if err == nil {
		err = context.Canceled
	}
	return &Error{Kind: KindCancelled, Op: op, Message: "cancelled", Err: err}
}

// KindOf returns the Kind of err, classifying untyped errors on the fly.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return Classify("", err).Kind
}

// ClassOf returns the failure class of err. Nil errors are permanent.
func ClassOf(err error) Class {
	if err == nil {
		return ClassPermanent
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Class()
	}
	return Classify("", err).Class()
}

// RetryAfterOf returns the server-requested delay carried by err, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var e *Error
	if stderrors.As(err, &e) && e.RetryAfter > 0 {
		return e.RetryAfter, true
	}
	return 0, false
}

// IsCancelled reports whether err stems from context cancellation.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if stderrors.As(err, &e) && e.Kind == KindCancelled {
		return true
	}
	return stderrors.Is(err, context.Canceled)
}

// Classify maps a raw transport or I/O error onto the taxonomy.
// Already typed errors are returned unchanged.
func Classify(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}

	switch {
	case stderrors.Is(err, context.Canceled):
		return Cancelled(op, err)
	case stderrors.Is(err, context.DeadlineExceeded):
		return Transient(op, "timeout", err)
	case stderrors.Is(err, io.ErrUnexpectedEOF), stderrors.Is(err, io.EOF):
		return Transient(op, "connection closed early", err)
	case stderrors.Is(err, syscall.ECONNRESET), stderrors.Is(err, syscall.ECONNREFUSED),
		stderrors.Is(err, syscall.ECONNABORTED), stderrors.Is(err, syscall.EPIPE):
		return Transient(op, "connection failed", err)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if netErr.Timeout() {
			return Transient(op, "timeout", err)
		}
		return Transient(op, "network error", err)
	}

	return Permanent(op, err.Error(), err)
}

// FromResponse builds an error for a non-2xx HTTP response.
func FromResponse(op string, resp *http.Response, now time.Time) *Error {
	e := &Error{
		Op:         op,
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
	}
	if IsRetryableStatusCode(resp.StatusCode) {
		e.Kind = KindTransientNetwork
	} else {
		e.Kind = KindPermanentClient
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		e.Message = "rate limited"
		e.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), now)
	}
	return e
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 408, 429:
		return true
	default:
		return statusCode >= 500
	}
}

// ParseRetryAfter understands both delta-seconds and HTTP-date forms.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
