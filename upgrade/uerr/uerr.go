// Copyright 2024 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package uerr defines the closed set of error kinds shared by every
// upgrade-core component, and the rollback/retry classification that the
// patch applicator and its caller use to decide what to do with a failure.
package uerr

import (
	"errors"
	"fmt"
)

// Kind is a closed enumeration of upgrade-core error kinds. Every error the
// core returns across a component boundary is (or wraps) an *UpgradeError
// with one of these kinds, so callers can classify failures with a type
// switch or errors.As instead of string matching.
type Kind int

const (
	// InvalidVersion: a version string failed parse or bounds validation.
	InvalidVersion Kind = iota
	// NoPackageForArchitecture: the strategy manager could find neither a
	// platforms entry for the detected architecture nor a legacy
	// packages.full package.
	NoPackageForArchitecture
	// NetworkError: a transport-level failure (connection refused, DNS,
	// broken pipe) while talking to the manifest or artifact server.
	NetworkError
	// TimedOut: an operation exceeded its deadline.
	TimedOut
	// Cancelled: the caller's context was cancelled externally.
	Cancelled
	// HashMismatch: the final SHA-256 of a downloaded artifact did not match
	// the manifest's declared hash.
	HashMismatch
	// SignatureInvalid: the signature format check failed.
	SignatureInvalid
	// PatchStructureInvalid: a path declared in patch operations is missing
	// from the extracted archive.
	PatchStructureInvalid
	// UnsafePath: an operation path attempted traversal outside the working
	// tree (absolute prefix or ".." segment).
	UnsafePath
	// ExtractionFailed: the patch archive could not be read (corrupt
	// tar/gzip stream, unexpected entry type).
	ExtractionFailed
	// FileOpFailed: a mid-apply filesystem operation failed. Resource is the
	// path being operated on.
	FileOpFailed
	// RollbackFailed: restoring a backed-up path during rollback failed.
	// Requires a human to reconcile the working tree.
	RollbackFailed
	// PermissionDenied: a filesystem operation failed due to permissions.
	// Resource is the path.
	PermissionDenied
	// IncompatibleEnvironment: the manifest's compose-version constraint was
	// not satisfied by the environment's detected compose binary version.
	IncompatibleEnvironment
)

func (k Kind) String() string {
	switch k {
	case InvalidVersion:
		return "InvalidVersion"
	case NoPackageForArchitecture:
		return "NoPackageForArchitecture"
	case NetworkError:
		return "NetworkError"
	case TimedOut:
		return "TimedOut"
	case Cancelled:
		return "Cancelled"
	case HashMismatch:
		return "HashMismatch"
	case SignatureInvalid:
		return "SignatureInvalid"
	case PatchStructureInvalid:
		return "PatchStructureInvalid"
	case UnsafePath:
		return "UnsafePath"
	case ExtractionFailed:
		return "ExtractionFailed"
	case FileOpFailed:
		return "FileOpFailed"
	case RollbackFailed:
		return "RollbackFailed"
	case PermissionDenied:
		return "PermissionDenied"
	case IncompatibleEnvironment:
		return "IncompatibleEnvironment"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// RequiresRollback reports whether an error of this kind, encountered
// mid-apply with backup enabled, requires the applicator to restore the
// backup ledger before returning.
func (k Kind) RequiresRollback() bool {
	switch k {
	case Cancelled, FileOpFailed:
		return true
	default:
		return false
	}
}

// Retryable reports whether the caller may reasonably retry the operation
// that produced this error kind. PermissionDenied reports false: it needs
// an environment fix rather than another attempt.
func (k Kind) Retryable() bool {
	switch k {
	case NetworkError, TimedOut, Cancelled, HashMismatch, ExtractionFailed:
		return true
	default:
		return false
	}
}

// UpgradeError is the shared error type returned across every upgrade-core
// component boundary.
type UpgradeError struct {
	Kind Kind
	// Resource is the offending resource: a URL for network-phase errors, a
	// working-tree-relative path for file-phase errors. Empty when not
	// applicable (e.g. InvalidVersion).
	Resource string
	Err      error
}

func (e *UpgradeError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Resource, e.Err)
}

func (e *UpgradeError) Unwrap() error { return e.Err }

// New constructs an *UpgradeError with no resource attached.
func New(kind Kind, err error) *UpgradeError {
	return &UpgradeError{Kind: kind, Err: err}
}

// Newf constructs an *UpgradeError from a formatted message.
func Newf(kind Kind, format string, a ...any) *UpgradeError {
	return &UpgradeError{Kind: kind, Err: fmt.Errorf(format, a...)}
}

// WithResource constructs an *UpgradeError carrying the offending resource
// (a URL or working-tree-relative path).
func WithResource(kind Kind, resource string, err error) *UpgradeError {
	return &UpgradeError{Kind: kind, Resource: resource, Err: err}
}

// Is reports whether err is an *UpgradeError of the given kind, unwrapping
// as needed. This lets callers write `uerr.Is(err, uerr.HashMismatch)`
// instead of a manual errors.As + field check.
func Is(err error, kind Kind) bool {
	var ue *UpgradeError
	if !errors.As(err, &ue) {
		return false
	}
	return ue.Kind == kind
}
