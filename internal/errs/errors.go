// Package errs classifies migration failures so the engine can decide
// between aborting a run, failing a folder, and skipping an item.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind partitions errors by how the engine reacts to them.
type Kind int

const (
	// KindConnection covers dial, TLS, and authentication failures.
	KindConnection Kind = iota
	// KindProtocol covers malformed or unexpected server responses.
	KindProtocol
	// KindConversion covers per-item payload conversion failures.
	KindConversion
	// KindStore covers destination write failures.
	KindStore
	// KindUnsupported marks item classes no converter handles.
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	case KindConversion:
		return "conversion"
	case KindStore:
		return "store"
	case KindUnsupported:
		return "unsupported"
	}
	return "unknown"
}

// Error wraps a cause with its migration kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Connection wraps err as a connection failure.
func Connection(format string, args ...interface{}) error {
	return &Error{Kind: KindConnection, Err: fmt.Errorf(format, args...)}
}

// Protocol wraps err as a protocol failure.
func Protocol(format string, args ...interface{}) error {
	return &Error{Kind: KindProtocol, Err: fmt.Errorf(format, args...)}
}

// Conversion wraps err as an item conversion failure.
func Conversion(format string, args ...interface{}) error {
	return &Error{Kind: KindConversion, Err: fmt.Errorf(format, args...)}
}

// Store wraps err as a destination write failure.
func Store(format string, args ...interface{}) error {
	return &Error{Kind: KindStore, Err: fmt.Errorf(format, args...)}
}

// Unsupported marks an item class that has no converter.
func Unsupported(class string) error {
	return &Error{Kind: KindUnsupported, Err: fmt.Errorf("unsupported item type: %s", class)}
}

// KindOf returns the kind of err; ok is false for untyped errors.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsUnsupported reports whether err marks an unhandled item class.
func IsUnsupported(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindUnsupported
}

// benignStoreErrors are destination-side failure phrases known to
// affect only the single item being stored, matched case-insensitively
// as substrings. Covers Cyrus' "Message contains invalid header" among
// other wordings. The engine logs and continues.
var benignStoreErrors = []string{
	"invalid header",
}

// IsBenignStore reports whether a store failure is on the known-benign
// whitelist and should not abort the run.
func IsBenignStore(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range benignStoreErrors {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
