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

// Package semver implements the four-segment version model that every other
// upgrade-core component compares against: (major, minor, patch, build),
// where build is the within-base patch counter.
//
// This is deliberately not github.com/Masterminds/semver/v3 (that package
// models three-segment x.y.z ranges with pre-release/metadata suffixes and
// is used elsewhere in this module, in upgrade/manifest, to check compose
// compatibility constraints). The version numbers this package parses are a
// strict four-integer tuple with its own bounds and its own notion of
// "sharing a base", so it gets its own small parser rather than bending a
// three-segment range library to fit a fourth, non-standard segment.
package semver

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment bounds, from the version model contract: major, minor, and patch
// top out at 999; build (the within-base patch counter) tops out at 9999.
const (
	MaxMajorMinorPatch = 999
	MaxBuild           = 9999
)

// Version is an immutable four-segment version: major.minor.patch.build.
type Version struct {
	major, minor, patch, build int
}

// New constructs a Version directly from its segments, validating bounds.
// Use this when segments are already known integers (e.g. decoded from a
// manifest's structured fields) rather than a display string.
func New(major, minor, patch, build int) (Version, error) {
	v := Version{major: major, minor: minor, patch: patch, build: build}
	if err := v.validateBounds(); err != nil {
		return Version{}, err
	}
	return v, nil
}

// Parse parses a version string of the form "major.minor.patch[.build]",
// with an optional leading "v". A missing fourth segment implies build=0.
//
// Rejected: empty input, non-digit segments, trailing characters after the
// last segment, segment counts other than 3 or 4, and out-of-range values.
func Parse(s string) (Version, error) {
	trimmed := strings.TrimPrefix(s, "v")
	if trimmed == "" {
		return Version{}, fmt.Errorf("version string must not be empty")
	}

	parts := strings.Split(trimmed, ".")
	if len(parts) != 3 && len(parts) != 4 {
		return Version{}, fmt.Errorf("version %q must have 3 or 4 dot-separated segments, got %d", s, len(parts))
	}

	nums := make([]int, 4)
	for i, part := range parts {
		n, err := parseSegment(part)
		if err != nil {
			return Version{}, fmt.Errorf("version %q: segment %d (%q): %w", s, i, part, err)
		}
		nums[i] = n
	}

	v := Version{major: nums[0], minor: nums[1], patch: nums[2], build: nums[3]}
	if err := v.validateBounds(); err != nil {
		return Version{}, fmt.Errorf("version %q: %w", s, err)
	}
	return v, nil
}

// parseSegment rejects empty strings, any non-digit rune, and values that
// overflow int. Leading zeros are accepted: "01" parses as 1.
func parseSegment(part string) (int, error) {
	if part == "" {
		return 0, fmt.Errorf("segment must not be empty")
	}
	for _, r := range part {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("segment must be all digits")
		}
	}
	n, err := strconv.Atoi(part)
	if err != nil {
		return 0, fmt.Errorf("parse int: %w", err)
	}
	return n, nil
}

func (v Version) validateBounds() error {
	if v.major < 0 || v.major > MaxMajorMinorPatch {
		return fmt.Errorf("major %d out of range [0,%d]", v.major, MaxMajorMinorPatch)
	}
	if v.minor < 0 || v.minor > MaxMajorMinorPatch {
		return fmt.Errorf("minor %d out of range [0,%d]", v.minor, MaxMajorMinorPatch)
	}
	if v.patch < 0 || v.patch > MaxMajorMinorPatch {
		return fmt.Errorf("patch %d out of range [0,%d]", v.patch, MaxMajorMinorPatch)
	}
	if v.build < 0 || v.build > MaxBuild {
		return fmt.Errorf("build %d out of range [0,%d]", v.build, MaxBuild)
	}
	return nil
}

// Major, Minor, Patch, and Build expose the four segments.
func (v Version) Major() int { return v.major }
func (v Version) Minor() int { return v.minor }
func (v Version) Patch() int { return v.patch }
func (v Version) Build() int { return v.build }

// Base returns the (major, minor, patch) triple as a comparable value, for
// callers that want to test base-equality without reaching for SameBase.
func (v Version) Base() [3]int { return [3]int{v.major, v.minor, v.patch} }

// SameBase reports whether v and other share the same (major, minor, patch).
func (v Version) SameBase(other Version) bool { return v.Base() == other.Base() }

// String formats the version, omitting the fourth segment when build==0.
func (v Version) String() string {
	if v.build == 0 {
		return fmt.Sprintf("%d.%d.%d", v.major, v.minor, v.patch)
	}
	return fmt.Sprintf("%d.%d.%d.%d", v.major, v.minor, v.patch, v.build)
}

// Classification is the result of comparing a current version against a
// target version.
type Classification int

const (
	// Equal means current and target are identical in all four segments.
	Equal Classification = iota
	// PatchUpgradeable means current and target share a base and target's
	// build is strictly greater than current's.
	PatchUpgradeable
	// FullUpgradeRequired means target's base differs from current's and
	// target orders after current.
	FullUpgradeRequired
	// Newer means current orders after target: the local version is
	// already ahead of the target.
	Newer
)

func (c Classification) String() string {
	switch c {
	case Equal:
		return "Equal"
	case PatchUpgradeable:
		return "PatchUpgradeable"
	case FullUpgradeRequired:
		return "FullUpgradeRequired"
	case Newer:
		return "Newer"
	default:
		return fmt.Sprintf("Classification(%d)", int(c))
	}
}

// Compare classifies target relative to current per the version model
// contract:
//
//   - Equal iff all four segments match.
//   - PatchUpgradeable iff same base AND target.build > current.build.
//   - FullUpgradeRequired iff bases differ AND target orders after current.
//   - Newer iff target orders before current.
//
// Ordering is lexicographic on (major, minor, patch, build).
func Compare(current, target Version) Classification {
	if current == target {
		return Equal
	}
	if current.SameBase(target) && target.build > current.build {
		return PatchUpgradeable
	}
	if IsAhead(current, target) {
		return FullUpgradeRequired
	}
	return Newer
}

// IsAhead reports whether target orders strictly after current under
// lexicographic (major, minor, patch, build) ordering.
func IsAhead(current, target Version) bool {
	if target.major != current.major {
		return target.major > current.major
	}
	if target.minor != current.minor {
		return target.minor > current.minor
	}
	if target.patch != current.patch {
		return target.patch > current.patch
	}
	return target.build > current.build
}
