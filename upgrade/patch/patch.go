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

// Package patch implements the patch applicator (C6): verify, extract, and
// apply a patch archive to the working tree, with backup-ledger-based
// atomic rollback on failure. A full upgrade is handled by the same
// pipeline as a degenerate case: every top-level entry of a full package's
// extracted tree becomes a synthetic replace operation, except upload/,
// which is preserved in place regardless of upgrade kind.
package patch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/abcxyz/pkg/logging"
	"github.com/benbjohnson/clock"
	"github.com/jinzhu/copier"

	"github.com/nuwax-cli/stackupgrade/common"
	"github.com/nuwax-cli/stackupgrade/common/dirhash"
	"github.com/nuwax-cli/stackupgrade/common/tempdir"
	"github.com/nuwax-cli/stackupgrade/upgrade/download"
	"github.com/nuwax-cli/stackupgrade/upgrade/manifest"
	"github.com/nuwax-cli/stackupgrade/upgrade/uerr"
)

// Stage tags which pipeline stage a progress Event was emitted from.
type Stage int

const (
	ValidatePreconditions Stage = iota
	DownloadPatch
	VerifyIntegrity
	ExtractArchive
	ValidateStructure
	ApplyOperations
	Commit
)

func (s Stage) String() string {
	switch s {
	case ValidatePreconditions:
		return "ValidatePreconditions"
	case DownloadPatch:
		return "DownloadPatch"
	case VerifyIntegrity:
		return "VerifyIntegrity"
	case ExtractArchive:
		return "ExtractArchive"
	case ValidateStructure:
		return "ValidateStructure"
	case ApplyOperations:
		return "ApplyOperations"
	case Commit:
		return "Commit"
	default:
		return "Unknown"
	}
}

// Event is the progress payload delivered to a ProgressSink, following
// spec.md §4.6's 0 → 25 → 35 → 45 → 50..100 stage percentages.
type Event struct {
	Stage   Stage
	Percent float64
	Message string
}

// ProgressSink receives applicator progress events; like download.ProgressSink,
// implementations MUST be non-blocking.
type ProgressSink func(Event)

// SignatureVerifier checks a patch or package's signature: a mandatory
// base64 structural check, plus an optional cryptographic verification
// policy decision (see internal/policy.OperatorPolicy, which satisfies this
// interface directly). This is the pluggable extension point spec.md §9
// leaves as an Open Question for the caller to resolve.
type SignatureVerifier interface {
	VerifySignature(payload []byte, signatureBase64 string) (bool, error)
}

// Options parameterizes one Apply or ApplyFull call.
type Options struct {
	// WorkingTreeRoot is the on-disk directory holding the deployed
	// application content that this apply mutates.
	WorkingTreeRoot string
	// TargetVersion participates in the downloader's resume task-match
	// tuple.
	TargetVersion string
	// EnableBackup allocates a backup staging directory and records every
	// mutated path in a BackupLedger, enabling LIFO rollback on failure.
	// Spec.md §4.6: "Callers MUST be encouraged to enable backup."
	EnableBackup bool
	// Client is the HTTP capability used to fetch the patch or package
	// artifact.
	Client download.HTTPDoer
	// KeepTempDirs preserves the download/extract/backup staging
	// directories instead of removing them, for debugging.
	KeepTempDirs bool
}

// Applicator runs the patch-application pipeline against one working tree
// at a time. Two Applicator.Apply calls MUST NOT target the same working
// tree concurrently; that exclusion is the external orchestrator's
// responsibility (a working-tree-scoped lock), not this type's.
type Applicator struct {
	fs       common.FS
	clock    clock.Clock
	fetcher  *download.Fetcher
	verifier SignatureVerifier
}

// New constructs an Applicator. fetcher is the C5 downloader used for the
// download_patch pipeline stage.
func New(fs common.FS, clk clock.Clock, fetcher *download.Fetcher, verifier SignatureVerifier) *Applicator {
	return &Applicator{fs: fs, clock: clk, fetcher: fetcher, verifier: verifier}
}

// Apply runs the full pipeline in spec.md §4.6: validate_preconditions →
// download_patch → verify_integrity → extract_archive → validate_structure
// → apply_operations → commit.
func (a *Applicator) Apply(ctx context.Context, ref manifest.PatchRef, opts Options, sink ProgressSink) (err error) {
	// Clone the caller's PatchRef (deep copy, via the same
	// github.com/jinzhu/copier the teacher's go.mod already carries) so
	// this pipeline never observes a mutation the caller makes to its own
	// copy mid-apply, matching spec.md §3's "Version values are immutable"
	// stance generalized to the whole reference.
	var local manifest.PatchRef
	if cerr := copier.CopyWithOption(&local, &ref, copier.Option{DeepCopy: true}); cerr != nil {
		return fmt.Errorf("cloning patch reference: %w", cerr)
	}

	if verr := validatePreconditions(local.Operations); verr != nil {
		return verr
	}

	return a.run(ctx, local.PackageRef, local.Operations, opts, sink)
}

// ApplyFull performs a full upgrade: the patch pipeline's download, verify,
// and extract stages, followed by a synthetic apply_operations built from
// every top-level entry of the extracted package tree (excluding upload/,
// preserved per spec.md §4.6 regardless of upgrade kind). This is the
// "simpler extract-and-replace path" spec.md §4.5 describes as a degenerate
// case of C6, rather than a second implementation of the operation
// semantics.
func (a *Applicator) ApplyFull(ctx context.Context, ref manifest.PackageRef, opts Options, sink ProgressSink) (err error) {
	var local manifest.PackageRef
	if cerr := copier.CopyWithOption(&local, &ref, copier.Option{DeepCopy: true}); cerr != nil {
		return fmt.Errorf("cloning package reference: %w", cerr)
	}

	return a.run(ctx, local, manifest.PatchOperations{}, opts, sink)
}

// run is shared by Apply and ApplyFull. When ops is the zero value (the
// ApplyFull case), the replace-operation set is derived from the extracted
// tree's top-level entries instead of a declared manifest.
func (a *Applicator) run(ctx context.Context, ref manifest.PackageRef, ops manifest.PatchOperations, opts Options, sink ProgressSink) (err error) {
	logger := logging.FromContext(ctx).With("logger", "patch.Applicator")
	emit := func(ev Event) {
		if sink != nil {
			sink(ev)
		}
	}

	emit(Event{Stage: ValidatePreconditions, Percent: 0})

	dirs := tempdir.NewDirTracker(a.fs, opts.KeepTempDirs)
	defer dirs.DeferMaybeRemoveAll(ctx, &err)

	downloadDir, derr := dirs.MkdirTempTracked("", tempdir.DownloadStagingNamePart)
	if derr != nil {
		return fmt.Errorf("creating download staging dir: %w", derr)
	}
	archivePath := filepath.Join(downloadDir, "artifact.tar.gz")

	fetchSink := func(ev download.ProgressEvent) {
		pct := 0.0
		if ev.TotalBytes > 0 {
			pct = 25 * float64(ev.DownloadedBytes) / float64(ev.TotalBytes)
		}
		emit(Event{Stage: DownloadPatch, Percent: pct, Message: ev.Phase.String()})
	}
	if ferr := a.fetcher.Fetch(ctx, ref.URL, archivePath, download.Options{
		ExpectedHash:  ref.Hash,
		ExpectedSize:  ref.Size,
		TargetVersion: opts.TargetVersion,
		Resume:        true,
		Client:        opts.Client,
	}, fetchSink); ferr != nil {
		return ferr
	}
	emit(Event{Stage: DownloadPatch, Percent: 25})

	archiveBytes, rerr := a.fs.ReadFile(archivePath)
	if rerr != nil {
		return uerr.WithResource(uerr.FileOpFailed, archivePath, rerr)
	}
	ok, verr := a.verifier.VerifySignature(archiveBytes, ref.Signature)
	if verr != nil {
		return uerr.WithResource(uerr.SignatureInvalid, ref.URL, verr)
	}
	if !ok {
		return uerr.WithResource(uerr.SignatureInvalid, ref.URL, errors.New("signature verification failed"))
	}
	emit(Event{Stage: VerifyIntegrity, Percent: 35})

	extractDir, eerr := dirs.MkdirTempTracked("", tempdir.ExtractDirNamePart)
	if eerr != nil {
		return fmt.Errorf("creating extraction staging dir: %w", eerr)
	}
	if xerr := a.extractArchive(ctx, archivePath, extractDir); xerr != nil {
		return xerr
	}
	emit(Event{Stage: ExtractArchive, Percent: 45})

	if len(ops.Replace.Files) == 0 && len(ops.Replace.Directories) == 0 && len(ops.Delete) == 0 {
		fullOps, operr := fullUpgradeOperations(extractDir)
		if operr != nil {
			return operr
		}
		ops = fullOps
	} else if serr := validateStructure(a.fs, extractDir, ops); serr != nil {
		return serr
	}
	emit(Event{Stage: ValidateStructure, Percent: 50})

	var ledger *BackupLedger
	if opts.EnableBackup {
		backupDir, berr := dirs.MkdirTempTracked("", tempdir.BackupDirNamePart)
		if berr != nil {
			return fmt.Errorf("creating backup staging dir: %w", berr)
		}
		ledger = newBackupLedger(a.fs, backupDir)
	}

	uploadDir := filepath.Join(opts.WorkingTreeRoot, uploadDirName)
	preUploadHash, herr := dirhash.HashLatest(uploadDir)
	if herr != nil {
		return fmt.Errorf("hashing upload directory before apply: %w", herr)
	}

	applyErr := a.applyOperations(ctx, opts.WorkingTreeRoot, extractDir, ops, ledger, emit)
	if applyErr == nil {
		if ok, verr := dirhash.Verify(preUploadHash, uploadDir); verr != nil {
			return fmt.Errorf("verifying upload directory was preserved: %w", verr)
		} else if !ok {
			return uerr.New(uerr.FileOpFailed, errors.New("upload directory was modified by apply"))
		}
		emit(Event{Stage: Commit, Percent: 100})
		return nil
	}

	var ue *uerr.UpgradeError
	rollbackEligible := opts.EnableBackup && ledger != nil && errors.As(applyErr, &ue) && ue.Kind.RequiresRollback()
	if !rollbackEligible {
		return applyErr
	}

	logger.WarnContext(ctx, "apply failed, rolling back", "error", applyErr)
	if rerr := ledger.restoreAll(ctx, opts.WorkingTreeRoot); rerr != nil {
		return uerr.New(uerr.RollbackFailed, errors.Join(applyErr, rerr))
	}
	return applyErr
}

// fullUpgradeOperations builds a synthetic PatchOperations from the
// top-level entries of a full package's extracted tree: each entry becomes
// a replace.files or replace.directories target, except upload/, which is
// never listed so the upload-preservation guard in ops.go leaves it alone
// (it's also skipped directly by name here, belt-and-suspenders with the
// isUploadPath check every replace/delete op already applies).
func fullUpgradeOperations(extractDir string) (manifest.PatchOperations, error) {
	entries, err := os.ReadDir(extractDir)
	if err != nil {
		return manifest.PatchOperations{}, fmt.Errorf("listing extracted package tree: %w", err)
	}

	var ops manifest.PatchOperations
	for _, de := range entries {
		if de.Name() == uploadDirName {
			continue
		}
		if de.IsDir() {
			ops.Replace.Directories = append(ops.Replace.Directories, de.Name())
		} else {
			ops.Replace.Files = append(ops.Replace.Files, de.Name())
		}
	}
	return ops, nil
}
