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

// Package dirhash computes a stable content hash of a directory tree. The
// applicator uses it to prove the upload-preservation invariant: hash the
// upload/ subtree before and after an apply and compare, rather than
// byte-comparing every file in the tree by hand.
//
// Carried over from the teacher's templates/common/dirhash package, which
// uses the same golang.org/x/mod/sumdb/dirhash primitive to hash rendered
// template output directories.
package dirhash

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/sumdb/dirhash"
)

// HashLatest computes a dirhash of dir using the latest/best algorithm. If
// dir doesn't exist, it returns the sentinel string "absent:" so that
// "directory absent" and "directory present but empty" are distinguishable
// from each other while both remain comparable without a special case at
// every call site.
func HashLatest(dir string) (string, error) {
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return "absent:", nil
		}
		return "", fmt.Errorf("stat(%q): %w", dir, err)
	}

	var files []string
	if err := filepath.WalkDir(dir, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return fmt.Errorf("filepath.Rel: %w", err)
		}
		files = append(files, rel)
		return nil
	}); err != nil {
		return "", fmt.Errorf("walking %q: %w", dir, err)
	}

	out, err := dirhash.Hash1(files, func(name string) (io.ReadCloser, error) {
		return os.Open(filepath.Join(dir, name))
	})
	if err != nil {
		return "", fmt.Errorf("dirhash.Hash1: %w", err)
	}
	return out, nil
}

// Verify returns whether dir's current dirhash equals wantHash.
func Verify(wantHash, dir string) (bool, error) {
	if !strings.Contains(wantHash, ":") {
		return false, fmt.Errorf("malformed hash, expected a hash-name prefix: %q", wantHash)
	}
	got, err := HashLatest(dir)
	if err != nil {
		return false, err
	}
	return got == wantHash, nil
}
