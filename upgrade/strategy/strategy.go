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

// Package strategy decides, from the current version, the server's
// manifest, the local environment, and the detected architecture, exactly
// one upgrade decision: do nothing, apply an incremental patch, or perform a
// full reinstall.
package strategy

import (
	"fmt"

	"github.com/nuwax-cli/stackupgrade/upgrade/arch"
	"github.com/nuwax-cli/stackupgrade/upgrade/manifest"
	"github.com/nuwax-cli/stackupgrade/upgrade/semver"
	"github.com/nuwax-cli/stackupgrade/upgrade/uerr"
)

// EnvProbe is a read-only view of the local environment, queried once per
// strategy decision by the orchestrator and passed in. The strategy manager
// never touches the filesystem itself.
type EnvProbe struct {
	ComposeDirPath      string
	ComposeDirMissing   bool
	ComposeFileMissing  bool
	WorkingTreeRoot     string

	// ComposeVersion is the three-segment semver of the host's docker
	// compose binary, if known. Empty means unknown, in which case the C7
	// compatibility gate is skipped rather than treated as a failure.
	ComposeVersion string
}

// Source distinguishes where a FullUpgrade's package reference came from.
type Source int

const (
	// Platforms: resolved from manifest.platforms.{arch}, the preferred
	// format.
	Platforms Source = iota
	// Legacy: resolved from the legacy manifest.packages.full fallback.
	Legacy
)

func (s Source) String() string {
	if s == Legacy {
		return "Legacy"
	}
	return "Platforms"
}

// DecisionKind tags which variant a Decision holds.
type DecisionKind int

const (
	NoUpgrade DecisionKind = iota
	FullUpgrade
	PatchUpgrade
)

func (k DecisionKind) String() string {
	switch k {
	case NoUpgrade:
		return "NoUpgrade"
	case FullUpgrade:
		return "FullUpgrade"
	case PatchUpgrade:
		return "PatchUpgrade"
	default:
		return "Unknown"
	}
}

// Decision is the strategy manager's single output: exactly one tagged
// variant, discriminated by Kind. Only the fields meaningful for that kind
// are populated; this mirrors the spec's tagged-union UpgradeDecision
// without resorting to an inheritance hierarchy of decision types.
type Decision struct {
	Kind DecisionKind

	// TargetVersion is populated for every kind: the version the working
	// tree will represent (NoUpgrade: unchanged/current target; FullUpgrade
	// and PatchUpgrade: the new target).
	TargetVersion semver.Version

	// FullUpgrade fields.
	FullPackage manifest.PackageRef
	FullSource  Source

	// PatchUpgrade fields.
	PatchRef manifest.PatchRef
}

// Manager decides upgrade strategy for one detected architecture.
type Manager struct {
	arch arch.Architecture
}

// New constructs a Manager bound to the architecture detected at
// construction time, per the contract in spec.md §4.4.
func New(a arch.Architecture) *Manager {
	return &Manager{arch: a}
}

// Decide implements the algorithm in spec.md §4.4, in the documented branch
// order, with one addition ahead of the force_full check: a compose-version
// compatibility gate (C7) that short-circuits to IncompatibleEnvironment
// when the manifest declares a constraint the environment's compose binary
// fails.
func (m *Manager) Decide(currentVersionStr string, man *manifest.UpgradeManifest, forceFull bool, env EnvProbe) (Decision, error) {
	current, err := semver.Parse(currentVersionStr)
	if err != nil {
		return Decision{}, uerr.New(uerr.InvalidVersion, err)
	}

	if env.ComposeVersion != "" {
		ok, err := man.SatisfiesComposeConstraint(env.ComposeVersion)
		if err != nil {
			return Decision{}, uerr.New(uerr.InvalidVersion, err)
		}
		if !ok {
			return Decision{}, uerr.Newf(uerr.IncompatibleEnvironment,
				"compose version %q does not satisfy manifest constraint %q", env.ComposeVersion, man.ComposeVersionConstraint)
		}
	}

	if forceFull {
		return m.resolveFullUpgrade(man)
	}

	if env.ComposeDirMissing || env.ComposeFileMissing {
		return m.resolveFullUpgrade(man)
	}

	target, err := man.Version()
	if err != nil {
		return Decision{}, uerr.New(uerr.InvalidVersion, err)
	}

	switch semver.Compare(current, target) {
	case semver.Equal, semver.Newer:
		return Decision{Kind: NoUpgrade, TargetVersion: target}, nil
	}

	// current is behind target. Whether a patch is even worth considering
	// depends on the manifest's own patch section, not on how far the
	// headline version has moved: a patch-segment-level headline bump (major
	// and minor unchanged) is patchable when an in-base patch is declared,
	// even though the headline target itself sits in a different base. A
	// minor or major bump always requires a full upgrade, regardless of
	// whatever patch.version happens to be declared.
	if current.Major() == target.Major() && current.Minor() == target.Minor() {
		if patchRef, ok := man.PatchPackage(m.arch); ok {
			patchTarget, ok, err := man.PatchVersion()
			if err != nil {
				return Decision{}, uerr.New(uerr.InvalidVersion, err)
			}
			if ok && current.SameBase(patchTarget) && patchTarget.Build() > current.Build() {
				return Decision{Kind: PatchUpgrade, TargetVersion: patchTarget, PatchRef: patchRef}, nil
			}
		}
	}

	return m.resolveFullUpgrade(man)
}

func (m *Manager) resolveFullUpgrade(man *manifest.UpgradeManifest) (Decision, error) {
	target, err := man.Version()
	if err != nil {
		return Decision{}, uerr.New(uerr.InvalidVersion, err)
	}

	if ref, fromPlatforms, ok := man.PlatformPackageSource(m.arch); ok {
		source := Legacy
		if fromPlatforms {
			source = Platforms
		}
		return Decision{Kind: FullUpgrade, TargetVersion: target, FullPackage: ref, FullSource: source}, nil
	}

	return Decision{}, uerr.WithResource(uerr.NoPackageForArchitecture, m.arch.DisplayName(),
		fmt.Errorf("no platform or legacy package available for architecture %q", m.arch.DisplayName()))
}
