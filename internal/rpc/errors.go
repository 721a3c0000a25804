package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/rpc"
)

// ErrDecode marks a log that could not be decoded into a Placed event.
var ErrDecode = errors.New("decode error")

// ErrorClass tells the caller how to react to a failed chain call.
type ErrorClass int

const (
	// ClassFatal is not retried.
	ClassFatal ErrorClass = iota
	// ClassRateLimited is retried with backoff.
	ClassRateLimited
	// ClassTransientNetwork is retried with backoff.
	ClassTransientNetwork
)

// String returns the metric label of the class.
func (c ErrorClass) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassTransientNetwork:
		return "transient_network"
	default:
		return "fatal"
	}
}

// Retryable reports whether a call failing with this class may be retried.
func (c ErrorClass) Retryable() bool {
	return c == ClassRateLimited || c == ClassTransientNetwork
}

// ChainError is a classified failure of a chain call.
type ChainError struct {
	Class ErrorClass
	Op    string
	Err   error
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Class, e.Err)
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// NewChainError wraps err with an explicit class.
func NewChainError(class ErrorClass, op string, err error) *ChainError {
	return &ChainError{Class: class, Op: op, Err: err}
}

// Classify wraps err into a ChainError, inferring its class.
// An error that already carries a class keeps it.
func Classify(op string, err error) *ChainError {
	var chainErr *ChainError
	if errors.As(err, &chainErr) {
		return chainErr
	}
	return &ChainError{Class: classify(err), Op: op, Err: err}
}

// ClassOf returns the class carried by err. Unclassified errors are fatal.
func ClassOf(err error) ErrorClass {
	var chainErr *ChainError
	if errors.As(err, &chainErr) {
		return chainErr.Class
	}
	return ClassFatal
}

// IsRetryable reports whether err carries a retryable class.
func IsRetryable(err error) bool {
	return ClassOf(err).Retryable()
}

var (
	// -32700 parse error, -32600 invalid request, -32601 method not found, -32602 invalid params
	fatalRPCCodes = map[int]struct{}{-32700: {}, -32600: {}, -32601: {}, -32602: {}}

	rateLimitMarkers = []string{
		"429", "too many requests", "rate limit", "quota", "plan limit", "count exceeded",
	}

	transientMarkers = []string{
		"timeout", "deadline exceeded", "connection reset", "connection refused", "broken pipe",
		"eof", "502", "503", "504", "bad gateway", "service unavailable", "gateway timeout",
		"connection pool", "no available connection", "header not found",
	}
)

func classify(err error) ErrorClass {
	if err == nil {
		return ClassFatal
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 429: //nolint:mnd
			return ClassRateLimited
		case httpErr.StatusCode >= 500: //nolint:mnd
			return ClassTransientNetwork
		}
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		if _, fatal := fatalRPCCodes[rpcErr.ErrorCode()]; fatal {
			return ClassFatal
		}
	}

	errStr := strings.ToLower(err.Error())

	for _, marker := range rateLimitMarkers {
		if strings.Contains(errStr, marker) {
			return ClassRateLimited
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransientNetwork
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, context.DeadlineExceeded) {
		return ClassTransientNetwork
	}

	for _, marker := range transientMarkers {
		if strings.Contains(errStr, marker) {
			return ClassTransientNetwork
		}
	}

	return ClassFatal
}

var (
	tooManyResultsRe = regexp.MustCompile(`Query returned more than \d+ results`)
	blockRangeRe     = regexp.MustCompile(`\[(0x[0-9a-fA-F]+),\s*(0x[0-9a-fA-F]+)\]`)
)

// IsTooManyResultsError checks if the error is an RPC "too many results" error (DataError with message in ErrorData).
func IsTooManyResultsError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		errData := fmt.Sprintf("%v", dataErr.ErrorData())
		return tooManyResultsRe.MatchString(errData), errData
	}

	return false, ""
}

// ParseSuggestedBlockRange attempts to extract the suggested block range from the error message.
// Returns the suggested fromBlock and toBlock, and true if successfully parsed.
// Expected format: "Query returned more than 20000 results. Try with this block range [0x7dfd25, 0x7e0fcc]."
func ParseSuggestedBlockRange(err string) (fromBlock, toBlock uint64, ok bool) {
	if err == "" {
		return 0, 0, false
	}

	matches := blockRangeRe.FindStringSubmatch(err)

	const expectedMatches = 3 // full match + 2 groups
	if len(matches) != expectedMatches {
		return 0, 0, false
	}

	from, err1 := strconv.ParseUint(matches[1][2:], 16, 64)
	to, err2 := strconv.ParseUint(matches[2][2:], 16, 64)

	if err1 != nil || err2 != nil {
		return 0, 0, false
	}

	return from, to, true
}
