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

// Package tempdir tracks the scoped, private temporary directories used by
// the downloader and patch applicator, guaranteeing cleanup on every exit
// path (success, failure, rollback).
package tempdir

import (
	"context"
	"errors"

	"github.com/abcxyz/pkg/logging"

	"github.com/nuwax-cli/stackupgrade/common"
)

const (
	// DownloadStagingNamePart names the temp dir a patch or package archive
	// is downloaded into; the archive is read and extracted from there.
	DownloadStagingNamePart = "download-staging-"

	// ExtractDirNamePart names the temp dir a patch archive is extracted into.
	ExtractDirNamePart = "patch-extract-"

	// BackupDirNamePart names the per-apply backup staging directory.
	BackupDirNamePart = "patch-backup-"
)

// DirTracker tracks temp directories created during one operation so they
// can be removed together, mirroring the teacher's
// templates/common/tempdir.DirTracker.
type DirTracker struct {
	fs           common.FS
	tempDirs     []string
	keepTempDirs bool
}

// NewDirTracker constructs a DirTracker. keepTempDirs preserves directories
// for debugging instead of removing them (equivalent to the teacher's
// --keep-temp-dirs flag).
func NewDirTracker(fs common.FS, keepTempDirs bool) *DirTracker {
	return &DirTracker{fs: fs, keepTempDirs: keepTempDirs}
}

// Track adds dir to the list of directories to remove later.
func (t *DirTracker) Track(dir string) {
	if dir == "" {
		return
	}
	t.tempDirs = append(t.tempDirs, dir)
}

// MkdirTempTracked calls MkdirTemp and tracks the result for later cleanup.
func (t *DirTracker) MkdirTempTracked(dir, pattern string) (string, error) {
	tempDir, err := t.fs.MkdirTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	t.Track(tempDir)
	return tempDir, nil
}

// DeferMaybeRemoveAll is intended to be called in a defer:
//
//	defer t.DeferMaybeRemoveAll(ctx, &rErr)
func (t *DirTracker) DeferMaybeRemoveAll(ctx context.Context, outErr *error) {
	logger := logging.FromContext(ctx).With("logger", "DirTracker.DeferMaybeRemoveAll")
	if t.keepTempDirs {
		logger.WarnContext(ctx, "keeping temporary directories", "paths", t.tempDirs)
		return
	}

	logger.DebugContext(ctx, "removing temporary directories")
	for _, p := range t.tempDirs {
		*outErr = errors.Join(*outErr, t.fs.RemoveAll(p))
	}
}
