package engine

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/rahul/taskpilot/internal/tools"
)

// Decision is the retry verdict for one failed attempt.
type Decision int

const (
	Terminal Decision = iota
	Retryable
)

func (d Decision) String() string {
	if d == Retryable {
		return "retryable"
	}
	return "terminal"
}

// Classifier decides whether an attempt error is worth retrying. It must be
// pure: the same error always yields the same decision.
type Classifier interface {
	Classify(err error) Decision
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(err error) Decision

func (f ClassifierFunc) Classify(err error) Decision { return f(err) }

// DefaultClassifier retries network failures, attempt timeouts, 5xx and
// 429 responses. Every other failure is terminal.
var DefaultClassifier Classifier = ClassifierFunc(classify)

func classify(err error) Decision {
	if err == nil {
		return Terminal
	}

	var te *tools.Error
	if errors.As(err, &te) {
		switch te.Class {
		case tools.ClassNetwork:
			return Retryable
		case tools.ClassHTTPStatus:
			return retryableStatus(te.StatusCode)
		case tools.ClassInvalid:
			return Terminal
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}
	if errors.Is(err, context.Canceled) {
		return Terminal
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retryable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Retryable
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return Retryable
	}
	return Terminal
}

func retryableStatus(code int) Decision {
	if code == http.StatusTooManyRequests || code >= 500 {
		return Retryable
	}
	return Terminal
}
