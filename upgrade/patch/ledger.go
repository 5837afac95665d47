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

package patch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/nuwax-cli/stackupgrade/common"
)

// backupEntry records one working-tree path that was about to be mutated:
// either its pre-mutation content was copied to backupPath (existed=true),
// or the path didn't exist yet and creating it is what needs to be undone
// (existed=false).
type backupEntry struct {
	relPath    string
	backupPath string
	existed    bool
	wasDir     bool
}

// BackupLedger is the in-memory map from a working-tree-relative path to its
// backup copy inside a process-private staging directory, recorded in
// mutation order so rollback can restore in the reverse (LIFO) order.
type BackupLedger struct {
	fs         common.FS
	backupRoot string
	entries    []backupEntry
}

func newBackupLedger(fs common.FS, backupRoot string) *BackupLedger {
	return &BackupLedger{fs: fs, backupRoot: backupRoot}
}

// record backs up the working-tree entry at rel, if it exists, before the
// caller mutates or removes it, and appends the mapping to the ledger. Must
// be called before the mutation, not after.
func (l *BackupLedger) record(ctx context.Context, workingRoot, rel string) error {
	src := filepath.Join(workingRoot, rel)
	info, err := l.fs.Lstat(src)
	if err != nil {
		if common.IsNotExistErr(err) {
			l.entries = append(l.entries, backupEntry{relPath: rel, existed: false})
			return nil
		}
		return fmt.Errorf("stat %q before backup: %w", rel, err)
	}

	dst := filepath.Join(l.backupRoot, rel)
	if info.IsDir() {
		if err := common.CopyRecursive(ctx, l.fs, src, dst); err != nil {
			return fmt.Errorf("backing up directory %q: %w", rel, err)
		}
		l.entries = append(l.entries, backupEntry{relPath: rel, backupPath: dst, existed: true, wasDir: true})
		return nil
	}

	if err := common.CopyFile(ctx, l.fs, src, dst, nil); err != nil {
		return fmt.Errorf("backing up file %q: %w", rel, err)
	}
	l.entries = append(l.entries, backupEntry{relPath: rel, backupPath: dst, existed: true})
	return nil
}

// restoreAll restores every recorded entry in LIFO order: entries recorded
// later in the apply are undone first. Paths that didn't exist before the
// apply are removed; paths that existed are restored from their backup
// copy. Restore failures are aggregated rather than stopping at the first
// one, so the caller can report the full extent of a failed rollback.
func (l *BackupLedger) restoreAll(ctx context.Context, workingRoot string) error {
	var errs error
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		dst := filepath.Join(workingRoot, e.relPath)

		if err := l.fs.RemoveAll(dst); err != nil && !common.IsNotExistErr(err) {
			errs = errors.Join(errs, fmt.Errorf("removing %q before restore: %w", e.relPath, err))
			continue
		}
		if !e.existed {
			continue
		}

		var err error
		if e.wasDir {
			err = common.CopyRecursive(ctx, l.fs, e.backupPath, dst)
		} else {
			err = common.CopyFile(ctx, l.fs, e.backupPath, dst, nil)
		}
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("restoring %q from backup: %w", e.relPath, err))
		}
	}
	return errs
}
