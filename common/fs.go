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

// Package common contains filesystem and error-handling plumbing shared by
// every upgrade-core component.
package common

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/abcxyz/pkg/logging"
)

const (
	// Permission bits: rwx------ .
	OwnerRWXPerms = 0o700
	// Permission bits: rw------- .
	OwnerRWPerms = 0o600
)

// FS abstracts filesystem operations so tests can inject errors and fakes
// without touching the real disk.
//
// We can't use os.DirFS or fs.StatFS because they lack some methods we need,
// so (following the teacher's own templates/common/fs.go) we define our own
// interface.
type FS interface {
	fs.StatFS

	Lstat(string) (fs.FileInfo, error)
	MkdirAll(string, os.FileMode) error
	MkdirTemp(string, string) (string, error)
	OpenFile(string, int, os.FileMode) (*os.File, error)
	ReadFile(string) ([]byte, error)
	Rename(string, string) error
	Remove(string) error
	RemoveAll(string) error
	WriteFile(string, []byte, os.FileMode) error
}

// RealFS is the non-test implementation of FS.
type RealFS struct{}

func (r *RealFS) Lstat(name string) (fs.FileInfo, error)    { return os.Lstat(name) }       //nolint:wrapcheck
func (r *RealFS) MkdirAll(name string, perm os.FileMode) error { return os.MkdirAll(name, perm) } //nolint:wrapcheck

func (r *RealFS) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern) //nolint:wrapcheck
}

func (r *RealFS) Open(name string) (fs.File, error) { return os.Open(name) } //nolint:wrapcheck

func (r *RealFS) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(name, flag, perm) //nolint:wrapcheck
}

func (r *RealFS) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) } //nolint:wrapcheck
func (r *RealFS) RemoveAll(name string) error           { return os.RemoveAll(name) }  //nolint:wrapcheck
func (r *RealFS) Remove(name string) error              { return os.Remove(name) }     //nolint:wrapcheck
func (r *RealFS) Rename(from, to string) error          { return os.Rename(from, to) } //nolint:wrapcheck
func (r *RealFS) Stat(name string) (fs.FileInfo, error)  { return os.Stat(name) }       //nolint:wrapcheck

func (r *RealFS) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm) //nolint:wrapcheck
}

// IsNotExistErr returns true if err indicates that a filesystem path doesn't
// exist.
func IsNotExistErr(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist) || errors.Is(err, fs.ErrInvalid)
}

// Exists returns whether path exists, treating ErrNotExist as "false, nil"
// rather than an error.
func Exists(rfs FS, path string) (bool, error) {
	if _, err := rfs.Stat(path); err != nil {
		if IsNotExistErr(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat(%q): %w", path, err)
	}
	return true, nil
}

// CopyFile copies the contents (and mode bits) of src to dst. tee, if
// non-nil, receives a copy of the bytes read (used by callers that want to
// hash while copying without a second pass over the file).
func CopyFile(ctx context.Context, rfs FS, src, dst string, tee hash.Hash) (outErr error) {
	logger := logging.FromContext(ctx).With("logger", "CopyFile")

	srcInfo, err := rfs.Stat(src)
	if err != nil {
		return fmt.Errorf("stat(%q): %w", src, err)
	}
	mode := srcInfo.Mode().Perm()

	readFile, err := rfs.OpenFile(src, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open(%q): %w", src, err)
	}
	defer func() { outErr = errors.Join(outErr, readFile.Close()) }()

	if err := rfs.MkdirAll(filepath.Dir(dst), OwnerRWXPerms); err != nil {
		return fmt.Errorf("mkdirAll(%q): %w", filepath.Dir(dst), err)
	}

	writeFile, err := rfs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("openFile(%q): %w", dst, err)
	}
	defer func() { outErr = errors.Join(outErr, writeFile.Close()) }()

	var writer io.Writer = writeFile
	if tee != nil {
		writer = io.MultiWriter(writeFile, tee)
	}

	if _, err := io.Copy(writer, readFile); err != nil {
		return fmt.Errorf("copy(%q -> %q): %w", src, dst, err)
	}
	logger.DebugContext(ctx, "copied file", "source", src, "destination", dst)
	return nil
}

// CopyRecursive recursively copies srcRoot to dstRoot. Symlinks are rejected
// (this mirrors the teacher's own stance in templates/common/fs.go: template
// output, and here working-tree content, must be ordinary files and dirs so
// that backup/rollback bookkeeping stays simple and unambiguous).
func CopyRecursive(ctx context.Context, rfs FS, srcRoot, dstRoot string) error {
	logger := logging.FromContext(ctx).With("logger", "CopyRecursive")

	return fs.WalkDir(rfs, srcRoot, func(path string, de fs.DirEntry, err error) error { //nolint:wrapcheck
		if err != nil {
			return err
		}
		relToSrc, err := filepath.Rel(srcRoot, path)
		if err != nil {
			return fmt.Errorf("filepath.Rel(%s,%s): %w", srcRoot, path, err)
		}
		dst := filepath.Join(dstRoot, relToSrc)

		if (de.Type() & fs.ModeSymlink) != 0 {
			return &SymlinkForbiddenError{Path: relToSrc}
		}

		if de.IsDir() {
			return rfs.MkdirAll(dst, OwnerRWXPerms)
		}

		logger.DebugContext(ctx, "copying directory entry", "path", relToSrc)
		return CopyFile(ctx, rfs, path, dst, nil)
	})
}

// SymlinkForbiddenError is returned from CopyRecursive when a symlink is
// encountered in the source tree.
type SymlinkForbiddenError struct {
	Path string
}

func (e *SymlinkForbiddenError) Error() string {
	return fmt.Sprintf("a symlink was found at %q, but symlinks are forbidden here", e.Path)
}

// ErrorFS wraps an FS and lets tests inject a specific error from any one
// method, while every other method passes through to the wrapped FS.
// Grounded on the teacher's own templates/common/fs.go ErrorFS, extended
// with the extra methods our FS interface adds (Lstat, MkdirTemp, Rename,
// Remove).
type ErrorFS struct {
	FS

	LstatErr      error
	MkdirAllErr   error
	MkdirTempErr  error
	OpenFileErr   error
	ReadFileErr   error
	RenameErr     error
	RemoveErr     error
	RemoveAllErr  error
	StatErr       error
	WriteFileErr  error
}

func (e *ErrorFS) Lstat(name string) (fs.FileInfo, error) {
	if e.LstatErr != nil {
		return nil, e.LstatErr
	}
	return e.FS.Lstat(name) //nolint:wrapcheck
}

func (e *ErrorFS) MkdirAll(name string, mode os.FileMode) error {
	if e.MkdirAllErr != nil {
		return e.MkdirAllErr
	}
	return e.FS.MkdirAll(name, mode) //nolint:wrapcheck
}

func (e *ErrorFS) MkdirTemp(dir, pattern string) (string, error) {
	if e.MkdirTempErr != nil {
		return "", e.MkdirTempErr
	}
	return e.FS.MkdirTemp(dir, pattern) //nolint:wrapcheck
}

func (e *ErrorFS) OpenFile(name string, flag int, mode os.FileMode) (*os.File, error) {
	if e.OpenFileErr != nil {
		return nil, e.OpenFileErr
	}
	return e.FS.OpenFile(name, flag, mode) //nolint:wrapcheck
}

func (e *ErrorFS) ReadFile(name string) ([]byte, error) {
	if e.ReadFileErr != nil {
		return nil, e.ReadFileErr
	}
	return e.FS.ReadFile(name) //nolint:wrapcheck
}

func (e *ErrorFS) Rename(from, to string) error {
	if e.RenameErr != nil {
		return e.RenameErr
	}
	return e.FS.Rename(from, to) //nolint:wrapcheck
}

func (e *ErrorFS) Remove(name string) error {
	if e.RemoveErr != nil {
		return e.RemoveErr
	}
	return e.FS.Remove(name) //nolint:wrapcheck
}

func (e *ErrorFS) RemoveAll(name string) error {
	if e.RemoveAllErr != nil {
		return e.RemoveAllErr
	}
	return e.FS.RemoveAll(name) //nolint:wrapcheck
}

func (e *ErrorFS) Stat(name string) (fs.FileInfo, error) {
	if e.StatErr != nil {
		return nil, e.StatErr
	}
	return e.FS.Stat(name) //nolint:wrapcheck
}

func (e *ErrorFS) WriteFile(name string, data []byte, perm os.FileMode) error {
	if e.WriteFileErr != nil {
		return e.WriteFileErr
	}
	return e.FS.WriteFile(name, data, perm) //nolint:wrapcheck
}

// ExitCodeError is returned from a CLI Run() function when the process wants
// to exit with a specific, non-1 status code.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string { return fmt.Sprintf("exit code %d: %v", e.Code, e.Err) }
func (e *ExitCodeError) Unwrap() error { return e.Err }
