// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package errors defines the error handling used throughout CipherBox.
package errors

import (
	"bytes"
	"fmt"
	"runtime"

	"cipherbox.io/log"
)

// Error is the type that implements the error interface.
// It contains a number of fields, each of different type.
// An Error value may leave some values unset.
type Error struct {
	// Name is the CipherBox Name (IPNS-shaped identifier) of the item
	// being accessed, if any.
	Name string
	// ShareID is the share involved in the operation, if any.
	ShareID string
	// Op is the operation being performed, usually the name of the
	// method being invoked (Publish, Share, Revoke, ...). It should not
	// contain an at sign @.
	Op string
	// Kind is the class of error, such as a decryption failure, or
	// Other if its class is unknown or irrelevant.
	Kind Kind
	// The underlying error that triggered this one, if any.
	Err error

	// stack information; only populated when built with the "debug" tag.
	stack
}

var _ error = (*Error)(nil)

// isZero reports whether e has none of its annotation fields set,
// ignoring the debug-only stack field (which is not comparable).
func (e *Error) isZero() bool {
	return e.Name == "" && e.ShareID == "" && e.Op == "" && e.Kind == Other && e.Err == nil
}

// Separator is the string used to separate nested errors. By default, to
// make errors easier on the eye, nested errors are indented on a new line.
var Separator = ":\n\t"

// Kind defines the kind of error this is. It lets callers react differently
// to different failure classes without parsing error strings.
type Kind uint8

// Kinds of errors, matching the CipherBox error taxonomy.
const (
	Other            Kind = iota // Unclassified error. Not printed in the error message.
	DecryptionFailed             // Any authenticated decrypt, metadata validation, or envelope parse failure.
	InvalidKeySize               // Pre-check failure on key byte lengths or curve-point validation.
	SigningFailed                // Producer-side signing failure.
	KeyDerivationFailed          // Producer-side key derivation failure; safe to retry.
	SequenceUnknown              // Publish attempted before the sequence cache was initialized and resolve failed.
	NameNotFound                 // Resolve returned nothing for a Name.
	UnverifiedRecord             // Resolve returned a record lacking signature fields.
	QuotaExceeded                // Upstream object-store quota signal.
	RevokedOrNotAMember          // Share access denied.
	BadGateway                   // Generic mapping of an external name-relay failure.
)

func (k Kind) String() string {
	switch k {
	case Other:
		return "other error"
	case DecryptionFailed:
		return "decryption failed"
	case InvalidKeySize:
		return "invalid key size"
	case SigningFailed:
		return "signing failed"
	case KeyDerivationFailed:
		return "key derivation failed"
	case SequenceUnknown:
		return "sequence unknown"
	case NameNotFound:
		return "name not found"
	case UnverifiedRecord:
		return "unverified record"
	case QuotaExceeded:
		return "quota exceeded"
	case RevokedOrNotAMember:
		return "revoked or not a member"
	case BadGateway:
		return "bad gateway"
	}
	return "unknown error kind"
}

// nameArg and shareIDArg let callers disambiguate plain strings passed to E
// from the Name/ShareID they annotate, without introducing exported string
// types that would be easy to misuse positionally.
type nameArg string
type shareIDArg string

// Name wraps a CipherBox Name for use as an E argument.
func Name(n string) interface{} { return nameArg(n) }

// ShareID wraps a share identifier for use as an E argument.
func ShareID(s string) interface{} { return shareIDArg(s) }

// E builds an error value from its arguments.
// The type of each argument determines its meaning.
// If more than one argument of a given type is presented,
// only the last one is recorded.
//
// The types are:
//	string
//		The operation being performed (e.g. "publish.Publish").
//	errors.Kind
//		The class of error.
//	error
//		The underlying error that triggered this one.
//
// If Kind is not specified or Other, we set it to the Kind of the
// underlying error.
func E(args ...interface{}) error {
	if len(args) == 0 {
		return nil
	}
	e := &Error{}
	for _, arg := range args {
		switch arg := arg.(type) {
		case nameArg:
			e.Name = string(arg)
		case shareIDArg:
			e.ShareID = string(arg)
		case string:
			e.Op = arg
		case Kind:
			e.Kind = arg
		case *Error:
			cp := *arg
			e.Err = &cp
		case error:
			e.Err = arg
		default:
			_, file, line, _ := runtime.Caller(1)
			log.Error.Printf("errors.E: bad call from %s:%d: %v", file, line, args)
			return Errorf("unknown type %T, value %v in error call", arg, arg)
		}
	}
	prev, ok := e.Err.(*Error)
	if !ok {
		return e
	}

	// The previous error was also one of ours. Suppress duplication so
	// the message doesn't repeat the same kind or name twice.
	if prev.Name == e.Name {
		prev.Name = ""
	}
	if prev.ShareID == e.ShareID {
		prev.ShareID = ""
	}
	if prev.Kind == e.Kind {
		prev.Kind = Other
	}
	if e.Kind == Other {
		e.Kind = prev.Kind
		prev.Kind = Other
	}
	e.populateStack()
	return e
}

func pad(b *bytes.Buffer, str string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(str)
}

func (e *Error) Error() string {
	b := new(bytes.Buffer)
	if e.Name != "" {
		b.WriteString(e.Name)
	}
	if e.ShareID != "" {
		pad(b, ", ")
		b.WriteString("share ")
		b.WriteString(e.ShareID)
	}
	if e.Op != "" {
		pad(b, ": ")
		b.WriteString(e.Op)
	}
	if e.Kind != 0 {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		if prevErr, ok := e.Err.(*Error); ok {
			if !prevErr.isZero() {
				pad(b, Separator)
				b.WriteString(e.Err.Error())
			}
		} else {
			pad(b, ": ")
			b.WriteString(e.Err.Error())
		}
	}
	e.printStack(b)
	if b.Len() == 0 {
		return "no error"
	}
	return b.String()
}

// Is reports whether err is an *Error of the given Kind, unwrapping nested
// CipherBox errors as needed.
func Is(kind Kind, err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	if e.Kind != Other {
		return e.Kind == kind
	}
	if e.Err != nil {
		return Is(kind, e.Err)
	}
	return false
}

// Str returns an error that formats as the given text. It is intended to be
// used as the error-typed argument to the E function.
func Str(text string) error {
	return &errorString{text}
}

type errorString struct {
	s string
}

func (e *errorString) Error() string {
	return e.s
}

// Errorf is equivalent to fmt.Errorf, but allows clients to import only
// this package for all error handling.
func Errorf(format string, args ...interface{}) error {
	return &errorString{fmt.Sprintf(format, args...)}
}
