package client

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/valyala/fasthttp"
)

// transientStatus lists replies that say "try again later".
var transientStatus = map[int]bool{
	fasthttp.StatusRequestTimeout:     true,
	fasthttp.StatusTooManyRequests:    true,
	fasthttp.StatusBadGateway:         true,
	fasthttp.StatusServiceUnavailable: true,
	fasthttp.StatusGatewayTimeout:     true,
}

var transientErrno = []syscall.Errno{
	syscall.ECONNREFUSED,
	syscall.ECONNRESET,
	syscall.ECONNABORTED,
	syscall.EHOSTUNREACH,
	syscall.ENETUNREACH,
	syscall.ETIMEDOUT,
}

func IsSuccessfulResponse(statusCode int, err error) bool {
	return err == nil && statusCode >= 200 && statusCode < 300
}

// IsCircuitBreakerFailure reports whether an outcome counts against the
// backend's health. Other 4xx replies are the caller's fault.
func IsCircuitBreakerFailure(statusCode int, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	return transientStatus[statusCode] || statusCode >= 500
}

// IsRetryableError reports whether a failed attempt may be repeated.
func IsRetryableError(statusCode int, err error) bool {
	if err != nil {
		return isTransportFailure(err)
	}
	return transientStatus[statusCode]
}

func isTransportFailure(err error) bool {
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, fasthttp.ErrTimeout),
		errors.Is(err, fasthttp.ErrDialTimeout),
		errors.Is(err, fasthttp.ErrConnectionClosed):
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Timeout() || dnsErr.IsTemporary
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	for _, errno := range transientErrno {
		if errors.Is(err, errno) {
			return true
		}
	}

	return false
}
