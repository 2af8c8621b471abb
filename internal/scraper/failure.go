package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FailureKind classifies why a scrape could not produce usable content.
type FailureKind string

const (
	FailTimeout   FailureKind = "timeout"
	FailHTTPError FailureKind = "http_error"
	FailBlocked   FailureKind = "blocked"
	FailEmpty     FailureKind = "empty"
)

// Failure is the error returned when a scrape fails in a way callers
// should report rather than retry blindly.
type Failure struct {
	Kind   FailureKind
	URL    string
	Status int
	Err    error
}

func (f *Failure) Error() string {
	if f.Status != 0 {
		return fmt.Sprintf("scrape %s: %s (status %d)", f.URL, f.Kind, f.Status)
	}
	if f.Err != nil {
		return fmt.Sprintf("scrape %s: %s: %v", f.URL, f.Kind, f.Err)
	}
	return fmt.Sprintf("scrape %s: %s", f.URL, f.Kind)
}

func (f *Failure) Unwrap() error { return f.Err }

// AsFailure unwraps err into a *Failure if one is in the chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// classifyTransport maps a transport-level error to a Failure. Context
// deadlines and net timeouts become FailTimeout, everything else is an
// HTTP-level error.
func classifyTransport(rawURL string, err error) *Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: FailTimeout, URL: rawURL, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Failure{Kind: FailTimeout, URL: rawURL, Err: err}
	}
	return &Failure{Kind: FailHTTPError, URL: rawURL, Err: err}
}

// classifyStatus maps a non-2xx status code to a Failure. 403 and 429
// are treated as the site actively blocking the scraper.
func classifyStatus(rawURL string, status int) *Failure {
	if status == 403 || status == 429 {
		return &Failure{Kind: FailBlocked, URL: rawURL, Status: status}
	}
	return &Failure{Kind: FailHTTPError, URL: rawURL, Status: status}
}
