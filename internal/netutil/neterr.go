// Package netutil classifies transport failures so callers can decide
// between retrying, falling back, and surfacing an error.
package netutil

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// IsNetworkError reports whether err is a transient transport failure
// (reset, refused, timeout, DNS, unreachable) as opposed to an
// application-level error. Only these are worth retrying or falling
// back on; everything else is surfaced to the caller.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	for _, target := range []error{
		syscall.ECONNRESET,
		syscall.ECONNREFUSED,
		syscall.ETIMEDOUT,
		syscall.EHOSTUNREACH,
		syscall.ENETUNREACH,
		syscall.EPIPE,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	// Some clients flatten the cause into the message.
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{
		"connection reset",
		"connection refused",
		"timeout",
		"timed out",
		"no such host",
		"network is unreachable",
		"broken pipe",
	} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// Describe renders a short operator-facing label for a transport
// failure, used in debug payloads and fallback scripts.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection reset"):
		return "接続がリセットされました (ECONNRESET)"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || errors.Is(err, context.DeadlineExceeded):
		return "接続がタイムアウトしました"
	case strings.Contains(msg, "connection refused"):
		return "接続が拒否されました (ECONNREFUSED)"
	case strings.Contains(msg, "no such host"):
		return "ホスト名を解決できませんでした"
	default:
		return "ネットワークエラー: " + err.Error()
	}
}
