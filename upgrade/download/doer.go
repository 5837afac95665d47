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

import "net/http"

// HTTPDoer is the injectable HTTP client capability spec.md §6 calls
// HttpClient: the core consumes a pre-built client (default or
// authenticated) rather than owning authentication or client-identity
// headers itself. Satisfied directly by *http.Client; tests supply a fake.
//
// Grounded on the same dependency-injection shape the teacher uses for its
// own Downloader abstraction (templates/common/templatesource/download.go):
// the core depends on a small interface, not a concrete client, so the
// caller controls identity and auth.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}
