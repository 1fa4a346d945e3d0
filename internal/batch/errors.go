package batch

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// ErrorKind classifies a per-file failure.
type ErrorKind int

const (
	IOError ErrorKind = iota
	AccessDenied
	DecodeError
	EncodeError
)

// String returns the string representation of the ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case AccessDenied:
		return "access_denied"
	case DecodeError:
		return "decode_error"
	case EncodeError:
		return "encode_error"
	default:
		return "io_error"
	}
}

// MarshalText lets the kind appear by name in JSON payloads.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// FileError describes why a single file could not be processed.
type FileError struct {
	Kind ErrorKind
	Path string
	Op   string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// Classify wraps err into a FileError. Permission failures are always
// reported as AccessDenied, everything else gets the fallback kind.
// A nil err yields nil.
func Classify(op, path string, err error, fallback ErrorKind) *FileError {
	if err == nil {
		return nil
	}

	var fe *FileError
	if errors.As(err, &fe) {
		return fe
	}

	kind := fallback
	if errors.Is(err, fs.ErrPermission) {
		kind = AccessDenied
	}
	return &FileError{Kind: kind, Path: path, Op: op, Err: err}
}

// ErrorPolicy decides what a batch does after a file fails.
type ErrorPolicy int

const (
	// Continue records the failure and moves on to the next file.
	Continue ErrorPolicy = iota
	// Abort stops the batch after the first failed file.
	Abort
)

// String returns the string representation of the ErrorPolicy.
func (p ErrorPolicy) String() string {
	if p == Abort {
		return "abort"
	}
	return "continue"
}

// ParsePolicy converts "continue" or "abort" into an ErrorPolicy.
func ParsePolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continue":
		return Continue, nil
	case "abort":
		return Abort, nil
	default:
		return Continue, fmt.Errorf("invalid error policy: %s (valid: continue, abort)", s)
	}
}
