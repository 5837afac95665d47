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

package download

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/nuwax-cli/stackupgrade/common"
)

// metadataSuffix and hashSuffix name the two sidecar files kept next to a
// downloaded artifact.
const (
	metadataSuffix = ".download"
	hashSuffix     = ".hash"
)

// Metadata is the sidecar record persisted beside an in-progress download.
// Two metadata records refer to the same resumable task iff their (URL,
// ExpectedSize, TargetVersion) tuple matches.
type Metadata struct {
	URL             string    `json:"url"`
	ExpectedSize    int64     `json:"expected_size"`
	ExpectedHash    string    `json:"expected_hash,omitempty"`
	DownloadedBytes int64     `json:"downloaded_bytes"`
	StartTime       time.Time `json:"start_time"`
	LastUpdate      time.Time `json:"last_update"`
	TargetVersion   string    `json:"target_version"`
}

// sameTask reports whether m and other describe the same resumable
// download task, per the (url, expected_size, target_version) match rule.
func (m Metadata) sameTask(other Metadata) bool {
	return m.URL == other.URL && m.ExpectedSize == other.ExpectedSize && m.TargetVersion == other.TargetVersion
}

func metadataPath(targetPath string) string { return targetPath + metadataSuffix }
func hashSidecarPath(targetPath string) string { return targetPath + hashSuffix }

// readMetadata loads the sidecar metadata for targetPath, if present. A
// missing file is not an error: it returns (Metadata{}, false, nil).
func readMetadata(fs common.FS, targetPath string) (Metadata, bool, error) {
	data, err := fs.ReadFile(metadataPath(targetPath))
	if err != nil {
		if common.IsNotExistErr(err) {
			return Metadata{}, false, nil
		}
		return Metadata{}, false, fmt.Errorf("reading download metadata: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		// A corrupt sidecar is treated as "no usable metadata" rather than a
		// hard failure: the caller falls back to a fresh download.
		return Metadata{}, false, nil
	}
	return m, true, nil
}

// writeMetadata atomically persists m beside targetPath (write to a sibling
// temp file in the same directory, then rename), so a reader never observes
// a half-written sidecar.
func writeMetadata(fs common.FS, targetPath string, m Metadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling download metadata: %w", err)
	}
	return atomicWriteFile(fs, metadataPath(targetPath), data)
}

func removeMetadata(fs common.FS, targetPath string) error {
	err := fs.Remove(metadataPath(targetPath))
	if err != nil && !common.IsNotExistErr(err) {
		return fmt.Errorf("removing download metadata: %w", err)
	}
	return nil
}

// readHashSidecar returns the cached, already-verified hash recorded for
// targetPath, if any.
func readHashSidecar(fs common.FS, targetPath string) (string, bool) {
	data, err := fs.ReadFile(hashSidecarPath(targetPath))
	if err != nil {
		return "", false
	}
	return string(data), true
}

func writeHashSidecar(fs common.FS, targetPath, hash string) error {
	return atomicWriteFile(fs, hashSidecarPath(targetPath), []byte(hash))
}

func removeHashSidecar(fs common.FS, targetPath string) error {
	err := fs.Remove(hashSidecarPath(targetPath))
	if err != nil && !common.IsNotExistErr(err) {
		return fmt.Errorf("removing hash sidecar: %w", err)
	}
	return nil
}

// atomicWriteFile writes data to a temp file in the same directory as path
// and renames it into place, so readers only ever see the prior or the next
// full content, never a partial write.
func atomicWriteFile(fs common.FS, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, common.OwnerRWXPerms); err != nil {
		return fmt.Errorf("mkdirAll(%q): %w", dir, err)
	}
	tmp, err := fs.MkdirTemp(dir, filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("creating temp dir for atomic write: %w", err)
	}
	defer func() { _ = fs.RemoveAll(tmp) }()

	tmpFile := filepath.Join(tmp, filepath.Base(path))
	if err := fs.WriteFile(tmpFile, data, common.OwnerRWPerms); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := fs.Rename(tmpFile, path); err != nil {
		return fmt.Errorf("renaming %q -> %q: %w", tmpFile, path, err)
	}
	return nil
}

// sizeOf returns the current size of path, or 0 if it doesn't exist.
func sizeOf(fs common.FS, path string) (int64, error) {
	info, err := fs.Stat(path)
	if err != nil {
		if common.IsNotExistErr(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("stat(%q): %w", path, err)
	}
	return info.Size(), nil
}
