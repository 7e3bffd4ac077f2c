package mcpclient

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/clock"
)

// RetryPolicy implements §4.1: exponential backoff with jitter and
// error classification. Zero value is not usable; construct with
// DefaultRetryPolicy.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	JitterBand float64 // fraction of the exponential delay, e.g. 0.25 for ±25%
	Jitter     clock.Jitter
}

// DefaultRetryPolicy matches SPEC_FULL.md §4.1's defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
		Multiplier: 2,
		JitterBand: 0.25,
		Jitter:     clock.RealJitter,
	}
}

// Delay computes the backoff for zero-based attempt n:
// min(base·multiplier^n, max) perturbed by ±JitterBand and clamped to
// non-negative — matches P6: delay(n) ∈ [0, min(base·mult^n, max)·1.25].
func (p RetryPolicy) Delay(n int) time.Duration {
	exp := float64(p.BaseDelay) * pow(p.Multiplier, n)
	if capped := float64(p.MaxDelay); exp > capped {
		exp = capped
	}

	j := p.Jitter
	if j == nil {
		j = clock.RealJitter
	}
	offset := (j.Float64()*2 - 1) * p.JitterBand * exp
	d := exp + offset
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// RecoveryAction is the outcome of classifying a downstream call
// error: whether to retry, and whether the cached connection must be
// dropped before the next attempt.
type RecoveryAction struct {
	Retry          bool
	DropConnection bool
}

var (
	noRetry       = RecoveryAction{}
	retryOnly     = RecoveryAction{Retry: true}
	retryDropConn = RecoveryAction{Retry: true, DropConnection: true}
)

// Classify determines the recovery action for a downstream call error,
// per §4.1's two-tier split: connection-level faults (refused, ENOENT,
// spawn failure) are retryable *and* drop the cached connection so the
// next attempt rebuilds it from scratch; the remaining transport
// faults (generic timeout, socket hang up, bare DNS failure, broken
// pipe) are retryable against the same connection, since nothing about
// them indicates the connection itself is unusable. Protocol errors
// and everything else propagate immediately.
func Classify(err error) RecoveryAction {
	if err == nil {
		return noRetry
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return noRetry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if isConnectionFault(err) {
			return retryDropConn
		}
		return retryOnly
	}

	if isConnectionFault(err) {
		return retryDropConn
	}

	if isRetryableTransportFault(err) {
		return retryOnly
	}

	if isMCPProtocolError(err) {
		return noRetry
	}

	return noRetry
}

// isConnectionFault reports whether err indicates the connection
// itself must be rebuilt: a closed/EOF'd stream, or a message naming
// a connect, spawn, or ENOENT failure.
func isConnectionFault(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}

	msg := strings.ToLower(err.Error())
	dropFaults := []string{
		"connect", // covers "connection refused", "connection reset", "connection closed"
		"spawn",
		"enoent",
	}
	for _, fault := range dropFaults {
		if strings.Contains(msg, fault) {
			return true
		}
	}
	return false
}

// isRetryableTransportFault reports whether err is a transient
// transport fault that should be retried against the same connection.
func isRetryableTransportFault(err error) bool {
	msg := strings.ToLower(err.Error())
	retryFaults := []string{
		"broken pipe",
		"no such host",
		"no such file or directory",
		"socket hang up",
		"dns",
		"timeout",
	}
	for _, fault := range retryFaults {
		if strings.Contains(msg, fault) {
			return true
		}
	}
	return false
}

// isMCPProtocolError detects MCP JSON-RPC protocol errors returned by
// the downstream server itself (bad tool name, invalid args) — these
// are deterministic failures and must not be retried.
func isMCPProtocolError(err error) bool {
	var wireErr *jsonrpc.Error
	if !errors.As(err, &wireErr) {
		return false
	}
	switch wireErr.Code {
	case jsonrpc.CodeParseError,
		jsonrpc.CodeInvalidRequest,
		jsonrpc.CodeMethodNotFound,
		jsonrpc.CodeInvalidParams:
		return true
	default:
		return false
	}
}
