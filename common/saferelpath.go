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

package common

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SafeRelPath validates that p is a relative path with no ".." traversal
// segments and no absolute prefix, and returns it cleaned with
// filepath.Clean, so it uses the OS-native separator (callers join it with
// filepath.Join).
//
// This is the same check the teacher applies to template output paths
// (templates/common/saferelpath.go); here it guards patch operation paths
// instead (spec: operations.replace/delete paths MUST NOT contain ".."
// segments or absolute prefixes).
func SafeRelPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("path must not be empty")
	}
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("path %q must not be absolute", p)
	}
	cleaned := filepath.Clean(p)
	for _, part := range strings.Split(cleaned, string(filepath.Separator)) {
		if part == ".." {
			return "", fmt.Errorf("path %q must not contain \"..\"", p)
		}
	}
	return strings.TrimLeft(cleaned, string(filepath.Separator)), nil
}
