// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package version

import (
	"errors"
	"fmt"
)

var (
	errPatchNotForward   = errors.New("patch activation height is not above the finalized height")
	errNilPatch          = errors.New("nil patch")
	errDuplicatePatch    = errors.New("patch already registered at this height")
	errVersionRegistered = errors.New("protocol version already registered")
)

// UnknownVersionError is returned when no table is registered for a
// protocol version. A node hitting it is running outdated code.
type UnknownVersionError struct {
	Version ProtocolVersion
	Known   []ProtocolVersion
}

func (e *UnknownVersionError) Error() string {
	return fmt.Sprintf("unknown protocol version %d, known versions %v", e.Version, e.Known)
}

// UnknownVersionMismatchError is returned when a table names a feature
// version that has no implemented arm.
type UnknownVersionMismatchError struct {
	Method   Method
	Known    []FeatureVersion
	Received FeatureVersion
}

func (e *UnknownVersionMismatchError) Error() string {
	return fmt.Sprintf("method %s has no arm for feature version %d, known arms %v", e.Method, e.Received, e.Known)
}

// MissingMethodError is returned when a table does not list a method at all.
type MissingMethodError struct {
	Method  Method
	Version ProtocolVersion
}

func (e *MissingMethodError) Error() string {
	return fmt.Sprintf("protocol version %d does not define method %s", e.Version, e.Method)
}

// IsFatal reports whether [err] is a version resolution failure. Such
// failures must halt the node rather than reject a transition.
func IsFatal(err error) bool {
	var (
		unknown  *UnknownVersionError
		mismatch *UnknownVersionMismatchError
		missing  *MissingMethodError
	)
	return errors.As(err, &unknown) || errors.As(err, &mismatch) || errors.As(err, &missing)
}
