package xlsxtables

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/crypt"
)

// Request failure categories. A RequestError unwraps to exactly one of them
// besides its cause, so errors.Is(err, ErrPasswordRequired) tells a retry
// with a password apart from a broken file.
var (
	// ErrLoad indicates the source could not be read.
	ErrLoad = errors.New("load failed")
	// ErrFormat indicates the stream is not a readable workbook.
	ErrFormat = errors.New("invalid xlsx stream")
	// ErrPasswordRequired indicates an encrypted workbook requested without a password.
	ErrPasswordRequired = errors.New("password required")
	// ErrPasswordIncorrect indicates a password that did not verify.
	ErrPasswordIncorrect = crypt.ErrPasswordIncorrect
)

// ErrInvalidRequest indicates a request rejected before any work started.
var ErrInvalidRequest = errors.New("invalid request")

// ErrFileNotFound indicates a locator naming no file.
var ErrFileNotFound = errors.New("file not found")

// RequestError is the failure of one request. It stops that request only.
type RequestError struct {
	Index   int
	Locator string
	// Kind is one of ErrLoad, ErrFormat, ErrPasswordRequired and
	// ErrPasswordIncorrect.
	Kind error
	Err  error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s(requests[%d]): %s", e.Locator, e.Index, e.Message())
}

// Message returns the cause on a single line. Format failures keep the
// category text as a prefix.
func (e *RequestError) Message() string {
	msg := e.Kind.Error()
	switch {
	case e.Err == nil || e.Err == e.Kind:
	case e.Kind == ErrFormat:
		msg += ": " + e.Err.Error()
	default:
		msg = e.Err.Error()
	}
	return singleLine(msg)
}

func (e *RequestError) Unwrap() []error {
	if e.Err == nil || e.Err == e.Kind {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newRequestError(n int, req *Request, kind, err error) *RequestError {
	return &RequestError{Index: n, Locator: req.Locator(), Kind: kind, Err: err}
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
