package studio

import (
	"errors"
	"fmt"
)

// ErrorKind is a coarse-grained categorization of per-image failures.
type ErrorKind string

const (
	KindIO           ErrorKind = "io"
	KindSegmentation ErrorKind = "segmentation"
	KindEncode       ErrorKind = "encode"
	KindUnexpected   ErrorKind = "unexpected"
)

// OpError wraps an underlying error with operation context and a kind.
type OpError struct {
	Op   string
	Kind ErrorKind
	Path string
	Err  error
}

func (e *OpError) Error() string {
	if e == nil {
		return "<nil>"
	}

	base := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Path != "" {
		base += fmt.Sprintf(" (path=%s)", e.Path)
	}
	if e.Err != nil {
		base += fmt.Sprintf(": %v", e.Err)
	}
	return base
}

func (e *OpError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsKind reports whether err carries an OpError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// KindOf returns the kind of the outermost OpError in err's chain. Errors that carry
// no OpError are KindUnexpected; nil has no kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindUnexpected
}
