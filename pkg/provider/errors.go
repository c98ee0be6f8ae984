package provider

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("object not found")
	ErrBucketNotFound      = errors.New("bucket not found")
	ErrAccessDenied        = errors.New("access denied")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrThrottled           = errors.New("request throttled")
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrUnsupported is returned when a backend lacks a capability an
	// operation needs, e.g. delimiter listing or version deletes.
	ErrUnsupported = errors.New("operation not supported by provider")
)

// Error codes shared by JSONL output and the HTTP API.
const (
	CodeAccessDenied        = "ACCESS_DENIED"
	CodeNotFound            = "NOT_FOUND"
	CodeThrottled           = "THROTTLED"
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeUnsupported         = "UNSUPPORTED"
	CodeTimeout             = "TIMEOUT"
	CodeInternal            = "INTERNAL"
)

// codeTable is checked in order; the first matching sentinel wins.
var codeTable = []struct {
	target error
	code   string
}{
	{ErrNotFound, CodeNotFound},
	{ErrBucketNotFound, CodeNotFound},
	{ErrAccessDenied, CodeAccessDenied},
	{ErrThrottled, CodeThrottled},
	{ErrProviderUnavailable, CodeProviderUnavailable},
	{ErrInvalidCredentials, CodeInvalidCredentials},
	{ErrUnsupported, CodeUnsupported},
	{context.Canceled, CodeTimeout},
	{context.DeadlineExceeded, CodeTimeout},
}

// Code classifies err into a stable machine-readable code. nil maps to "".
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codeTable {
		if errors.Is(err, c.target) {
			return c.code
		}
	}
	return CodeInternal
}

// ProviderError records which backend call failed and where.
type ProviderError struct {
	Op       string
	Provider ProviderType
	Bucket   string
	Key      string // empty for bucket-level calls
	Err      error
}

func (e *ProviderError) Error() string {
	where := e.Bucket
	if e.Key != "" {
		where += "/" + e.Key
	}
	if where == "" {
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, where, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsBucketNotFound(err error) bool { return errors.Is(err, ErrBucketNotFound) }

func IsAccessDenied(err error) bool { return errors.Is(err, ErrAccessDenied) }
