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
	"fmt"
	"path/filepath"
	"strings"

	"github.com/abcxyz/pkg/logging"

	"github.com/nuwax-cli/stackupgrade/common"
	"github.com/nuwax-cli/stackupgrade/upgrade/manifest"
	"github.com/nuwax-cli/stackupgrade/upgrade/uerr"
)

// uploadDirName is the designated user-owned data subtree that every apply
// (patch or full) must preserve in place, per spec.md §4.6.
const uploadDirName = "upload"

// isUploadPath reports whether rel (already SafeRelPath-validated) falls
// inside the upload/ subtree, which must never be touched by an apply
// regardless of whether the operation came from a patch or a full upgrade.
func isUploadPath(rel string) bool {
	clean := filepath.ToSlash(filepath.Clean(rel))
	return clean == uploadDirName || strings.HasPrefix(clean, uploadDirName+"/")
}

// validatePreconditions checks spec.md §4.6's precondition rules: the
// operation path set must be non-empty, and every path must be
// normalizable, relative, and free of ".." traversal.
func validatePreconditions(ops manifest.PatchOperations) error {
	if len(ops.Replace.Files) == 0 && len(ops.Replace.Directories) == 0 && len(ops.Delete) == 0 {
		return uerr.New(uerr.PatchStructureInvalid, fmt.Errorf("patch declares no replace or delete operations"))
	}

	all := make([]string, 0, len(ops.Replace.Files)+len(ops.Replace.Directories)+len(ops.Delete))
	all = append(all, ops.Replace.Files...)
	all = append(all, ops.Replace.Directories...)
	all = append(all, ops.Delete...)
	for _, p := range all {
		if _, err := common.SafeRelPath(p); err != nil {
			return uerr.WithResource(uerr.UnsafePath, p, err)
		}
	}
	return nil
}

// validateStructure checks that every declared replace.files entry exists
// as a regular file, and every replace.directories entry exists as a
// directory, under the extracted archive tree. delete entries reference
// the working tree, not the archive, so they're not checked here.
func validateStructure(rfs common.FS, extractDir string, ops manifest.PatchOperations) error {
	for _, raw := range ops.Replace.Files {
		rel, _ := common.SafeRelPath(raw) // already validated by validatePreconditions
		info, err := rfs.Stat(filepath.Join(extractDir, rel))
		if err != nil {
			return uerr.WithResource(uerr.PatchStructureInvalid, rel, fmt.Errorf("declared replace file missing from archive: %w", err))
		}
		if info.IsDir() {
			return uerr.WithResource(uerr.PatchStructureInvalid, rel, fmt.Errorf("declared replace file is a directory in the archive"))
		}
	}
	for _, raw := range ops.Replace.Directories {
		rel, _ := common.SafeRelPath(raw)
		info, err := rfs.Stat(filepath.Join(extractDir, rel))
		if err != nil {
			return uerr.WithResource(uerr.PatchStructureInvalid, rel, fmt.Errorf("declared replace directory missing from archive: %w", err))
		}
		if !info.IsDir() {
			return uerr.WithResource(uerr.PatchStructureInvalid, rel, fmt.Errorf("declared replace directory is a file in the archive"))
		}
	}
	return nil
}

// applyOperations runs the operation pipeline in the mandated order —
// replace files, then replace directories, then delete items, in manifest
// list order within each category — emitting a 50..100 linearly-scaled
// ApplyOperations event after each op.
func (a *Applicator) applyOperations(ctx context.Context, workingRoot, extractDir string, ops manifest.PatchOperations, ledger *BackupLedger, emit func(Event)) error {
	total := len(ops.Replace.Files) + len(ops.Replace.Directories) + len(ops.Delete)
	done := 0
	step := func() {
		done++
		pct := 100.0
		if total > 0 {
			pct = 50 + 50*float64(done)/float64(total)
		}
		emit(Event{Stage: ApplyOperations, Percent: pct})
	}

	for _, raw := range ops.Replace.Files {
		if err := a.replaceFile(ctx, workingRoot, extractDir, raw, ledger); err != nil {
			return err
		}
		step()
	}
	for _, raw := range ops.Replace.Directories {
		if err := a.replaceDirectory(ctx, workingRoot, extractDir, raw, ledger); err != nil {
			return err
		}
		step()
	}
	for _, raw := range ops.Delete {
		if err := a.deletePath(ctx, workingRoot, raw, ledger); err != nil {
			return err
		}
		step()
	}
	return nil
}

func (a *Applicator) replaceFile(ctx context.Context, workingRoot, extractDir, raw string, ledger *BackupLedger) error {
	logger := logging.FromContext(ctx).With("logger", "patch.Applicator")

	rel, err := common.SafeRelPath(raw)
	if err != nil {
		return uerr.WithResource(uerr.UnsafePath, raw, err)
	}
	if isUploadPath(rel) {
		logger.InfoContext(ctx, "preserving upload directory, skipping replace", "path", rel)
		return nil
	}

	if ledger != nil {
		if err := ledger.record(ctx, workingRoot, rel); err != nil {
			return uerr.WithResource(uerr.FileOpFailed, rel, err)
		}
	}

	dst := filepath.Join(workingRoot, rel)
	if err := a.fs.MkdirAll(filepath.Dir(dst), common.OwnerRWXPerms); err != nil {
		return uerr.WithResource(uerr.FileOpFailed, rel, err)
	}
	if err := atomicReplaceFile(ctx, a.fs, filepath.Join(extractDir, rel), dst); err != nil {
		return uerr.WithResource(uerr.FileOpFailed, rel, err)
	}
	return nil
}

func (a *Applicator) replaceDirectory(ctx context.Context, workingRoot, extractDir, raw string, ledger *BackupLedger) error {
	logger := logging.FromContext(ctx).With("logger", "patch.Applicator")

	rel, err := common.SafeRelPath(raw)
	if err != nil {
		return uerr.WithResource(uerr.UnsafePath, raw, err)
	}
	if isUploadPath(rel) {
		logger.InfoContext(ctx, "preserving upload directory, skipping replace", "path", rel)
		return nil
	}

	if ledger != nil {
		if err := ledger.record(ctx, workingRoot, rel); err != nil {
			return uerr.WithResource(uerr.FileOpFailed, rel, err)
		}
	}

	dst := filepath.Join(workingRoot, rel)
	if err := a.fs.RemoveAll(dst); err != nil {
		return uerr.WithResource(uerr.FileOpFailed, rel, err)
	}
	if err := common.CopyRecursive(ctx, a.fs, filepath.Join(extractDir, rel), dst); err != nil {
		return uerr.WithResource(uerr.FileOpFailed, rel, err)
	}
	return nil
}

// deletePath removes the working-tree entry at raw. A target that doesn't
// exist is logged and skipped rather than treated as an error: this is the
// idempotent-redelete resolution documented in DESIGN.md for the spec's
// second Open Question (idempotent re-apply of an already-applied patch).
func (a *Applicator) deletePath(ctx context.Context, workingRoot, raw string, ledger *BackupLedger) error {
	logger := logging.FromContext(ctx).With("logger", "patch.Applicator")

	rel, err := common.SafeRelPath(raw)
	if err != nil {
		return uerr.WithResource(uerr.UnsafePath, raw, err)
	}
	if isUploadPath(rel) {
		logger.InfoContext(ctx, "preserving upload directory, skipping delete", "path", rel)
		return nil
	}

	target := filepath.Join(workingRoot, rel)
	exists, err := common.Exists(a.fs, target)
	if err != nil {
		return uerr.WithResource(uerr.FileOpFailed, rel, err)
	}
	if !exists {
		logger.InfoContext(ctx, "delete target already absent, skipping", "path", rel)
		return nil
	}

	if ledger != nil {
		if err := ledger.record(ctx, workingRoot, rel); err != nil {
			return uerr.WithResource(uerr.FileOpFailed, rel, err)
		}
	}
	if err := a.fs.RemoveAll(target); err != nil {
		return uerr.WithResource(uerr.FileOpFailed, rel, err)
	}
	return nil
}

// atomicReplaceFile stages src's content at a sibling temp path next to dst
// and renames it into place, so an observer never sees a half-written dst:
// at any instant the filesystem shows either the pre-op or the post-op
// file, never a partial one.
func atomicReplaceFile(ctx context.Context, rfs common.FS, src, dst string) error {
	tmp := dst + ".patchtmp"
	if err := common.CopyFile(ctx, rfs, src, tmp, nil); err != nil {
		return fmt.Errorf("staging replacement for %q: %w", dst, err)
	}
	if err := rfs.Rename(tmp, dst); err != nil {
		_ = rfs.Remove(tmp)
		return fmt.Errorf("renaming replacement into place for %q: %w", dst, err)
	}
	return nil
}
