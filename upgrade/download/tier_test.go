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

import "testing"

func TestClassifyURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		url  string
		want Tier
	}{
		{"https://my-bucket.s3.us-west-2.amazonaws.com/artifact.tar.gz", ExtendedTier},
		{"https://s3.amazonaws.com/my-bucket/artifact.tar.gz", ExtendedTier},
		{"https://oss-cn-hangzhou.aliyuncs.com/artifact.tar.gz", ExtendedTier},
		{"https://my-bucket.r2.cloudflarestorage.com/artifact.tar.gz", ExtendedTier},
		{"https://storage.googleapis.com/my-bucket/artifact.tar.gz", ExtendedTier},
		{"https://cdn.example.com/artifact.tar.gz", StandardTier},
		{"https://manifests.internal.example.com/artifact.tar.gz", StandardTier},
		{"not a url at all", StandardTier},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.url, func(t *testing.T) {
			t.Parallel()
			if got := ClassifyURL(tc.url); got != tc.want {
				t.Errorf("ClassifyURL(%q) = %v, want %v", tc.url, got, tc.want)
			}
		})
	}
}
