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

package semver

import (
	"testing"

	"github.com/abcxyz/pkg/testutil"
)

func TestParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		want    Version
		wantErr string
	}{
		{
			name: "three_segments",
			in:   "1.2.3",
			want: Version{major: 1, minor: 2, patch: 3, build: 0},
		},
		{
			name: "four_segments",
			in:   "0.0.13.5",
			want: Version{major: 0, minor: 0, patch: 13, build: 5},
		},
		{
			name: "leading_v_accepted_and_discarded",
			in:   "v1.2.3.4",
			want: Version{major: 1, minor: 2, patch: 3, build: 4},
		},
		{
			name:    "empty",
			in:      "",
			wantErr: "must not be empty",
		},
		{
			name:    "two_segments",
			in:      "1.2",
			wantErr: "must have 3 or 4",
		},
		{
			name:    "five_segments",
			in:      "1.2.3.4.5",
			wantErr: "must have 3 or 4",
		},
		{
			name:    "non_digit_segment",
			in:      "1.2.x",
			wantErr: "segment must be all digits",
		},
		{
			name:    "trailing_characters",
			in:      "1.2.3abc",
			wantErr: "segment must be all digits",
		},
		{
			name:    "empty_segment",
			in:      "1..3",
			wantErr: "segment must not be empty",
		},
		{
			name:    "major_out_of_range",
			in:      "1000.0.0",
			wantErr: "out of range",
		},
		{
			name:    "build_out_of_range",
			in:      "1.0.0.10000",
			wantErr: "out of range",
		},
		{
			name: "build_at_max",
			in:   "1.0.0.9999",
			want: Version{major: 1, minor: 0, patch: 0, build: 9999},
		},
		{
			name: "major_minor_patch_at_max",
			in:   "999.999.999",
			want: Version{major: 999, minor: 999, patch: 999, build: 0},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := Parse(tc.in)
			if diff := testutil.DiffErrString(err, tc.wantErr); diff != "" {
				t.Fatal(diff)
			}
			if err != nil {
				return
			}
			if got != tc.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseDisplayRoundTrip(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"0.0.13", "0.0.13.0", "1.2.3.4", "999.999.999.9999"} {
		in := in
		t.Run(in, func(t *testing.T) {
			t.Parallel()

			v, err := Parse(in)
			if err != nil {
				t.Fatalf("Parse(%q): %v", in, err)
			}
			v2, err := Parse(v.String())
			if err != nil {
				t.Fatalf("Parse(%q) (round trip): %v", v.String(), err)
			}
			if v != v2 {
				t.Errorf("round trip: Parse(%q)=%+v, Parse(display)=%+v (display was %q)", in, v, v2, v.String())
			}
		})
	}
}

func TestString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   Version
		want string
	}{
		{name: "build_zero_omitted", in: Version{major: 1, minor: 2, patch: 3, build: 0}, want: "1.2.3"},
		{name: "build_nonzero_shown", in: Version{major: 1, minor: 2, patch: 3, build: 4}, want: "1.2.3.4"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.in.String(); got != tc.want {
				t.Errorf("String() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		current string
		target  string
		want    Classification
	}{
		{name: "equal", current: "0.0.13.2", target: "0.0.13.2", want: Equal},
		{name: "same_base_patch_upgradeable", current: "0.0.13.2", target: "0.0.13.5", want: PatchUpgradeable},
		{name: "same_base_target_behind", current: "0.0.13.5", target: "0.0.13.2", want: Newer},
		{name: "different_base_target_ahead", current: "0.0.13.2", target: "0.1.0.0", want: FullUpgradeRequired},
		{name: "different_base_target_behind", current: "0.1.0.0", target: "0.0.13.2", want: Newer},
		{name: "minor_bump_full_upgrade", current: "0.0.13.2", target: "0.1.0", want: FullUpgradeRequired},
		{name: "major_bump_full_upgrade", current: "0.9.9.9999", target: "1.0.0", want: FullUpgradeRequired},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			current, err := Parse(tc.current)
			if err != nil {
				t.Fatalf("Parse(current): %v", err)
			}
			target, err := Parse(tc.target)
			if err != nil {
				t.Fatalf("Parse(target): %v", err)
			}

			got := Compare(current, target)
			if got != tc.want {
				t.Errorf("Compare(%s, %s) = %s, want %s", tc.current, tc.target, got, tc.want)
			}
		})
	}
}

func TestSameBase(t *testing.T) {
	t.Parallel()

	a := must(t, "0.0.13.2")
	b := must(t, "0.0.13.9")
	c := must(t, "0.0.14.0")

	if !a.SameBase(b) {
		t.Errorf("expected %s and %s to share a base", a, b)
	}
	if a.SameBase(c) {
		t.Errorf("expected %s and %s to not share a base", a, c)
	}
}

func must(t *testing.T, s string) Version {
	t.Helper()
	v, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return v
}
