package upload

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// Validation errors, returned before any store call is made.
var (
	ErrEmptySource     = errors.New("file is empty")
	ErrInvalidPartSize = errors.New("invalid part size")
	ErrTooManyParts    = errors.New("too many parts")
)

// Failure kinds carried by *Error. Use errors.Is to classify a failed upload.
var (
	// ErrSourceRead means the local file could not be read mid-part
	ErrSourceRead = errors.New("source read failed")

	// ErrStoreCall means a store operation was rejected or did not complete
	ErrStoreCall = errors.New("store call failed")

	// ErrShortPart means the source ran out before a planned part was filled
	ErrShortPart = errors.New("short part")

	// ErrAssembly means the store refused to assemble the uploaded parts
	ErrAssembly = errors.New("assembly rejected")

	// ErrCanceled means the part was never attempted because the upload was cancelled
	ErrCanceled = errors.New("upload canceled")
)

// Error describes a failed upload. Kind is one of the failure sentinels
// above and Err is the underlying cause; both are reachable through errors.Is
// and errors.As.
type Error struct {
	// Op is the store operation or step that failed (e.g. "uploadPart")
	Op string

	// Key is the generated object key
	Key string

	// Part is the part number, zero when the failure is not part specific
	Part int32

	Kind error
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Part > 0 {
		return fmt.Sprintf("%s %s part %d: %v: %v", e.Op, e.Key, e.Part, e.Kind, e.Err)
	}
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Key, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the failure kind and the cause.
func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Code returns the store's error code when the cause is an API error.
func (e *Error) Code() string {
	var apiErr smithy.APIError
	if errors.As(e.Err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// Store error codes that reject the assembly itself rather than the call.
var assemblyCodes = map[string]bool{
	"InvalidPart":      true,
	"InvalidPartOrder": true,
	"EntityTooSmall":   true,
	"BadDigest":        true,
}

// completionFailureKind classifies a failed complete call. Only rejections of
// the part list are assembly failures; throttling, server errors, network
// errors and context expiry are store call failures.
func completionFailureKind(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && assemblyCodes[apiErr.ErrorCode()] {
		return ErrAssembly
	}
	return ErrStoreCall
}

func newError(op, key string, part int32, kind, err error) *Error {
	return &Error{
		Op:   op,
		Key:  key,
		Part: part,
		Kind: kind,
		Err:  err,
	}
}

// IsRetryable reports whether repeating the whole upload could succeed.
// Validation failures, short parts and rejected assemblies are final.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrEmptySource),
		errors.Is(err, ErrInvalidPartSize),
		errors.Is(err, ErrTooManyParts),
		errors.Is(err, ErrShortPart),
		errors.Is(err, ErrAssembly):
		return false
	}
	return true
}
