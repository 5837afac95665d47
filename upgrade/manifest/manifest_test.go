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

package manifest

import (
	"testing"

	"github.com/abcxyz/pkg/testutil"

	"github.com/nuwax-cli/stackupgrade/upgrade/arch"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		wantErr string
	}{
		{
			name: "full_document",
			in: `{
				"version": "0.1.0",
				"release_date": "2026-01-01",
				"release_notes": "notes",
				"platforms": {"x86_64": {"url": "https://example.com/a.tar.gz", "signature": "c2ln", "hash": "sha256:deadbeef", "size": 123}},
				"patch": {"version": "0.0.13.5", "x86_64": {"url": "https://example.com/p.tar.gz", "signature": "c2ln", "operations": {"replace": {"files": ["a.txt"]}, "delete": ["b.txt"]}}},
				"unknown_field_from_the_future": {"whatever": true}
			}`,
		},
		{
			name:    "missing_version",
			in:      `{"release_date": "2026-01-01"}`,
			wantErr: "required field",
		},
		{
			name:    "not_json",
			in:      `not json`,
			wantErr: "decoding upgrade manifest",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := Decode([]byte(tc.in))
			if diff := testutil.DiffErrString(err, tc.wantErr); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestPlatformPackageFallsBackToLegacy(t *testing.T) {
	t.Parallel()

	m, err := Decode([]byte(`{
		"version": "0.1.0",
		"packages": {"full": {"url": "https://example.com/legacy.tar.gz", "signature": "c2ln"}}
	}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	ref, ok := m.PlatformPackage(arch.X86_64)
	if !ok {
		t.Fatal("expected a package ref from the legacy fallback")
	}
	if ref.URL != "https://example.com/legacy.tar.gz" {
		t.Errorf("URL = %q, want legacy URL", ref.URL)
	}
}

func TestPlatformPackagePrefersPlatformsOverLegacy(t *testing.T) {
	t.Parallel()

	m, err := Decode([]byte(`{
		"version": "0.1.0",
		"platforms": {"x86_64": {"url": "https://example.com/preferred.tar.gz", "signature": "c2ln"}},
		"packages": {"full": {"url": "https://example.com/legacy.tar.gz", "signature": "c2ln"}}
	}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	ref, ok := m.PlatformPackage(arch.X86_64)
	if !ok {
		t.Fatal("expected a package ref")
	}
	if ref.URL != "https://example.com/preferred.tar.gz" {
		t.Errorf("URL = %q, want the platforms entry, not the legacy fallback", ref.URL)
	}
}

func TestSupportsArchitecture(t *testing.T) {
	t.Parallel()

	m, err := Decode([]byte(`{
		"version": "0.1.0",
		"platforms": {"x86_64": {"url": "https://example.com/a.tar.gz", "signature": "c2ln"}}
	}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if !m.SupportsArchitecture(arch.X86_64) {
		t.Error("expected x86_64 to be supported")
	}
	if m.SupportsArchitecture(arch.AARCH64) {
		t.Error("expected aarch64 to be unsupported")
	}
	if m.SupportsArchitecture(arch.Unsupported("riscv64")) {
		t.Error("an Unsupported architecture must never match")
	}
}

func TestSatisfiesComposeConstraint(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name           string
		constraint     string
		composeVersion string
		want           bool
		wantErr        string
	}{
		{name: "no_constraint_always_satisfies", constraint: "", composeVersion: "1.0.0", want: true},
		{name: "satisfies", constraint: ">= 2.20.0", composeVersion: "2.24.1", want: true},
		{name: "does_not_satisfy", constraint: ">= 2.20.0", composeVersion: "2.10.0", want: false},
		{name: "malformed_constraint", constraint: "not a constraint !!", composeVersion: "2.24.1", wantErr: "parsing compose_version_constraint"},
		{name: "malformed_compose_version", constraint: ">= 2.20.0", composeVersion: "not-a-version", wantErr: "parsing compose version"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			m := &UpgradeManifest{VersionStr: "0.1.0", ComposeVersionConstraint: tc.constraint}
			got, err := m.SatisfiesComposeConstraint(tc.composeVersion)
			if diff := testutil.DiffErrString(err, tc.wantErr); diff != "" {
				t.Fatal(diff)
			}
			if err != nil {
				return
			}
			if got != tc.want {
				t.Errorf("SatisfiesComposeConstraint(%q) with constraint %q = %v, want %v", tc.composeVersion, tc.constraint, got, tc.want)
			}
		})
	}
}
