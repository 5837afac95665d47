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

package strategy

import (
	"testing"

	"github.com/abcxyz/pkg/testutil"

	"github.com/nuwax-cli/stackupgrade/upgrade/arch"
	"github.com/nuwax-cli/stackupgrade/upgrade/manifest"
)

func decodeOrFatal(t *testing.T, doc string) *manifest.UpgradeManifest {
	t.Helper()
	m, err := manifest.Decode([]byte(doc))
	if err != nil {
		t.Fatalf("manifest.Decode: %v", err)
	}
	return m
}

// TestDecide_S1 mirrors spec.md scenario S1: same-base patch upgrade.
func TestDecide_S1_PatchUpgrade(t *testing.T) {
	t.Parallel()

	man := decodeOrFatal(t, `{
		"version": "0.0.14",
		"patch": {"version": "0.0.13.5", "x86_64": {"url": "https://example.com/p.tar.gz", "signature": "c2ln", "operations": {"replace": {"files": ["a"]}}}}
	}`)

	mgr := New(arch.X86_64)
	env := EnvProbe{}
	decision, err := mgr.Decide("0.0.13.2", man, false, env)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Kind != PatchUpgrade {
		t.Fatalf("Kind = %s, want PatchUpgrade", decision.Kind)
	}
	if got, want := decision.TargetVersion.String(), "0.0.13.5"; got != want {
		t.Errorf("TargetVersion = %q, want %q", got, want)
	}
}

// TestDecide_S2 mirrors spec.md scenario S2: different-base full upgrade,
// patch ignored because bases differ.
func TestDecide_S2_FullUpgradeDifferentBase(t *testing.T) {
	t.Parallel()

	man := decodeOrFatal(t, `{
		"version": "0.1.0",
		"platforms": {"x86_64": {"url": "https://example.com/full.tar.gz", "signature": "c2ln"}},
		"patch": {"version": "0.0.13.5", "x86_64": {"url": "https://example.com/p.tar.gz", "signature": "c2ln", "operations": {"replace": {"files": ["a"]}}}}
	}`)

	mgr := New(arch.X86_64)
	decision, err := mgr.Decide("0.0.13.2", man, false, EnvProbe{})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Kind != FullUpgrade {
		t.Fatalf("Kind = %s, want FullUpgrade", decision.Kind)
	}
	if decision.FullSource != Platforms {
		t.Errorf("FullSource = %s, want Platforms", decision.FullSource)
	}
	if got, want := decision.TargetVersion.String(), "0.1.0"; got != want {
		t.Errorf("TargetVersion = %q, want %q", got, want)
	}
}

// TestDecide_S3 mirrors spec.md scenario S3: same base, patch package
// missing for this architecture, falls through to full upgrade.
func TestDecide_S3_PatchFallsThroughToFull(t *testing.T) {
	t.Parallel()

	man := decodeOrFatal(t, `{
		"version": "0.0.13.5",
		"platforms": {"aarch64": {"url": "https://example.com/full-arm.tar.gz", "signature": "c2ln"}},
		"patch": {"version": "0.0.13.5", "x86_64": {"url": "https://example.com/p.tar.gz", "signature": "c2ln", "operations": {"replace": {"files": ["a"]}}}}
	}`)

	mgr := New(arch.AARCH64)
	decision, err := mgr.Decide("0.0.13.2", man, false, EnvProbe{})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Kind != FullUpgrade {
		t.Fatalf("Kind = %s, want FullUpgrade", decision.Kind)
	}
}

func TestDecide_NoUpgradeWhenEqual(t *testing.T) {
	t.Parallel()

	man := decodeOrFatal(t, `{"version": "0.0.13.2"}`)
	mgr := New(arch.X86_64)
	decision, err := mgr.Decide("0.0.13.2", man, false, EnvProbe{})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Kind != NoUpgrade {
		t.Fatalf("Kind = %s, want NoUpgrade", decision.Kind)
	}
}

func TestDecide_FreshInstallForcesFullUpgrade(t *testing.T) {
	t.Parallel()

	man := decodeOrFatal(t, `{
		"version": "0.0.13.2",
		"platforms": {"x86_64": {"url": "https://example.com/full.tar.gz", "signature": "c2ln"}}
	}`)
	mgr := New(arch.X86_64)
	decision, err := mgr.Decide("0.0.13.2", man, false, EnvProbe{ComposeDirMissing: true})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Kind != FullUpgrade {
		t.Fatalf("Kind = %s, want FullUpgrade for fresh install even when versions are equal", decision.Kind)
	}
}

func TestDecide_ForceFull(t *testing.T) {
	t.Parallel()

	man := decodeOrFatal(t, `{
		"version": "0.0.13.2",
		"platforms": {"x86_64": {"url": "https://example.com/full.tar.gz", "signature": "c2ln"}}
	}`)
	mgr := New(arch.X86_64)
	decision, err := mgr.Decide("0.0.13.2", man, true, EnvProbe{})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Kind != FullUpgrade {
		t.Fatalf("Kind = %s, want FullUpgrade when force_full is set", decision.Kind)
	}
}

func TestDecide_InvalidCurrentVersion(t *testing.T) {
	t.Parallel()

	man := decodeOrFatal(t, `{"version": "0.1.0"}`)
	mgr := New(arch.X86_64)
	_, err := mgr.Decide("not-a-version", man, false, EnvProbe{})
	if diff := testutil.DiffErrString(err, "version"); diff != "" {
		t.Fatal(diff)
	}
}

func TestDecide_NoPackageForArchitecture(t *testing.T) {
	t.Parallel()

	man := decodeOrFatal(t, `{"version": "0.1.0"}`)
	mgr := New(arch.X86_64)
	_, err := mgr.Decide("0.0.13.2", man, false, EnvProbe{})
	if diff := testutil.DiffErrString(err, "no platform or legacy package"); diff != "" {
		t.Fatal(diff)
	}
}

func TestDecide_UnsupportedArchitectureCannotPatch(t *testing.T) {
	t.Parallel()

	man := decodeOrFatal(t, `{
		"version": "0.0.13.5",
		"patch": {"version": "0.0.13.5", "x86_64": {"url": "https://example.com/p.tar.gz", "signature": "c2ln", "operations": {"replace": {"files": ["a"]}}}}
	}`)
	mgr := New(arch.Unsupported("riscv64"))
	_, err := mgr.Decide("0.0.13.2", man, false, EnvProbe{})
	if diff := testutil.DiffErrString(err, "no platform or legacy package"); diff != "" {
		t.Fatal(diff)
	}
}

// TestDecide_IncompatibleEnvironment covers the new C7 compose-version gate.
func TestDecide_IncompatibleEnvironment(t *testing.T) {
	t.Parallel()

	man := decodeOrFatal(t, `{"version": "0.1.0", "compose_version_constraint": ">= 2.20.0"}`)
	mgr := New(arch.X86_64)
	_, err := mgr.Decide("0.0.13.2", man, false, EnvProbe{ComposeVersion: "2.10.0"})
	if diff := testutil.DiffErrString(err, "does not satisfy manifest constraint"); diff != "" {
		t.Fatal(diff)
	}
}

func TestDecide_UnknownComposeVersionSkipsGate(t *testing.T) {
	t.Parallel()

	man := decodeOrFatal(t, `{"version": "0.0.13.2", "compose_version_constraint": ">= 2.20.0"}`)
	mgr := New(arch.X86_64)
	decision, err := mgr.Decide("0.0.13.2", man, false, EnvProbe{})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Kind != NoUpgrade {
		t.Fatalf("Kind = %s, want NoUpgrade (gate should be skipped when compose version is unknown)", decision.Kind)
	}
}
