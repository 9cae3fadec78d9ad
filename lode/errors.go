package lode

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for storage failure classification.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrDiskFull         = errors.New("no space left on device")
	ErrTimeout          = errors.New("operation timed out")
	ErrThrottled        = errors.New("rate limited")
	ErrAuth             = errors.New("authentication failed")
	ErrAccessDenied     = errors.New("access denied")
	ErrNetwork          = errors.New("network error")
	// ErrUnclassified is the kind for failures matching no other sentinel.
	ErrUnclassified = errors.New("storage error")
)

// StorageError wraps an archive failure with its classification.
type StorageError struct {
	// Kind is one of the sentinels above.
	Kind error
	// Op is write, read or init.
	Op string
	// Path is the dataset or snapshot involved, if any.
	Path string
	// Err is the underlying error.
	Err error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("archive %s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("archive %s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is matches the classification sentinel.
func (e *StorageError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// IsStorageError returns true if err wraps a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// WrapWriteError classifies a write failure. Returns nil for nil.
func WrapWriteError(err error, path string) error {
	return wrap(err, "write", path)
}

// WrapReadError classifies a read failure. Returns nil for nil.
func WrapReadError(err error, path string) error {
	return wrap(err, "read", path)
}

// WrapInitError classifies a setup failure. Returns nil for nil.
func WrapInitError(err error, path string) error {
	return wrap(err, "init", path)
}

func wrap(err error, op, path string) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Kind: classify(err), Op: op, Path: path, Err: err}
}

// classifyRule maps message fragments to a sentinel. Order matters: the
// first rule whose fragment appears wins.
type classifyRule struct {
	kind      error
	fragments []string
}

var classifyRules = []classifyRule{
	{ErrAccessDenied, []string{"accessdenied", "forbidden", "403"}},
	{ErrPermissionDenied, []string{"permission denied", "eacces"}},
	{ErrNotFound, []string{"no such file", "does not exist", "not found", "enoent", "404", "nosuchkey", "nosuchbucket"}},
	{ErrDiskFull, []string{"no space left", "disk full", "enospc", "quota exceeded"}},
	{ErrTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{ErrThrottled, []string{"slowdown", "rate exceeded", "throttl", "429", "toomanyrequests"}},
	{ErrAuth, []string{"nocredentialproviders", "credentials", "invalidaccesskeyid", "signaturedoesnotmatch", "expiredtoken", "401", "unauthorized"}},
	{ErrNetwork, []string{"connection refused", "no route to host", "network unreachable", "no such host", "dial tcp"}},
}

func classify(err error) error {
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return ErrTimeout
	}
	msg := strings.ToLower(err.Error())
	for _, rule := range classifyRules {
		for _, f := range rule.fragments {
			if strings.Contains(msg, f) {
				return rule.kind
			}
		}
	}
	return ErrUnclassified
}
