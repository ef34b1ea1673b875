package httpout

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// Error classes carried by failure records.
const (
	ClassConfiguration = "configuration"
	ClassTransport     = "transport"
	ClassHTTPStatus    = "http_status"
)

var (
	ErrInvalidMethod = errors.New("invalid http method")
	ErrSelection     = errors.New("payload selection failed")
)

// DeliveryError is the single failure signal raised for an event.
type DeliveryError struct {
	Class      string
	Reason     string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *DeliveryError) Error() string {
	return "Failed to submit data. Reason: " + e.Reason
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// ErrorClass lets the runner label failure records without importing this
// package.
func (e *DeliveryError) ErrorClass() string {
	return e.Class
}

func methodError(method string) *DeliveryError {
	return &DeliveryError{
		Class:  ClassConfiguration,
		Reason: fmt.Sprintf("Invalid http method defined: '%s'.", method),
		Err:    ErrInvalidMethod,
	}
}

func selectionError(selection string, err error) *DeliveryError {
	return &DeliveryError{
		Class:  ClassConfiguration,
		Reason: fmt.Sprintf("Unable to select '%s' from event: %v", selection, err),
		Err:    fmt.Errorf("%w: %w", ErrSelection, err),
	}
}

// transportError wraps failures that happened before a status line was read
// or while the body was being read. connected reports whether the transport
// obtained a connection before err.
func transportError(err error, timeout time.Duration, connected bool) *DeliveryError {
	reason := err.Error()
	if isTimeout(err) {
		if !connected || isDialError(err) {
			reason = fmt.Sprintf("Connect timed out. (connect timeout=%s): %v", timeout, err)
		} else {
			reason = fmt.Sprintf("Read timed out. (read timeout=%s): %v", timeout, err)
		}
	}
	return &DeliveryError{Class: ClassTransport, Reason: reason, Err: err}
}

func statusError(code int, target string) *DeliveryError {
	kind := "Unexpected Status"
	switch {
	case code >= 400 && code < 500:
		kind = "Client Error"
	case code >= 500 && code < 600:
		kind = "Server Error"
	}
	return &DeliveryError{
		Class:      ClassHTTPStatus,
		Reason:     fmt.Sprintf("%d %s: %s for url: %s", code, kind, http.StatusText(code), target),
		StatusCode: code,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func isTLSError(err error) bool {
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var unknownAuth x509.UnknownAuthorityError
	if errors.As(err, &unknownAuth) {
		return true
	}
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return true
	}
	var recErr tls.RecordHeaderError
	return errors.As(err, &recErr)
}

// classifyReason maps a failure to a low-cardinality metric label.
func classifyReason(err error) string {
	var de *DeliveryError
	if !errors.As(err, &de) {
		return "other"
	}
	switch de.Class {
	case ClassConfiguration:
		if errors.Is(de, ErrInvalidMethod) {
			return "invalid_method"
		}
		return "selection"
	case ClassHTTPStatus:
		switch {
		case de.StatusCode >= 500:
			return "http_5xx"
		case de.StatusCode == http.StatusTooManyRequests:
			return "http_429"
		case de.StatusCode >= 400:
			return "http_4xx"
		case de.StatusCode >= 300:
			return "http_3xx"
		}
		return "other"
	}

	cause := de.Err
	if cause == nil {
		return "network"
	}
	if isTimeout(cause) {
		return "timeout"
	}
	if isTLSError(cause) {
		return "tls"
	}
	if errors.Is(cause, syscall.ECONNREFUSED) {
		return "connection_refused"
	}
	var dnsErr *net.DNSError
	if errors.As(cause, &dnsErr) {
		return "dns_error"
	}
	var urlErr *url.Error
	if errors.As(cause, &urlErr) {
		msg := strings.ToLower(urlErr.Error())
		if strings.Contains(msg, "connection refused") {
			return "connection_refused"
		}
		if strings.Contains(msg, "no such host") {
			return "dns_error"
		}
	}
	return "network"
}
