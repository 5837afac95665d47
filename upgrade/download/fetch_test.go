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
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benbjohnson/clock"

	"github.com/nuwax-cli/stackupgrade/common"
	"github.com/nuwax-cli/stackupgrade/upgrade/uerr"
)

// fakeDoer implements HTTPDoer by delegating to a function, so each test
// can script exactly the responses its scenario needs.
type fakeDoer struct {
	do func(req *http.Request) (*http.Response, error)
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) { return f.do(req) }

func newOKResponse(body []byte) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        http.Header{},
	}
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestFetch_FreshDownloadVerifiesHash(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte("a"), 100_000)
	doer := &fakeDoer{do: func(req *http.Request) (*http.Response, error) {
		return newOKResponse(content), nil
	}}

	fs := &common.RealFS{}
	target := filepath.Join(t.TempDir(), "artifact.tar.gz")
	fetcher := New(fs, clock.New())

	var events []ProgressEvent
	err := fetcher.Fetch(context.Background(), "https://example.com/artifact.tar.gz", target, Options{
		ExpectedHash: "sha256:" + sha256Hex(content),
		ExpectedSize: int64(len(content)),
		Client:       doer,
	}, func(ev ProgressEvent) { events = append(events, ev) })
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	got, err := fs.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("downloaded content does not match the served content")
	}

	if _, err := fs.Stat(target + metadataSuffix); !common.IsNotExistErr(err) {
		t.Error("expected the .download sidecar to be removed on completion")
	}
	hashSidecar, err := fs.ReadFile(target + hashSuffix)
	if err != nil {
		t.Fatalf("reading .hash sidecar: %v", err)
	}
	if !hashesEqual(string(hashSidecar), "sha256:"+sha256Hex(content)) {
		t.Errorf(".hash sidecar = %q, want a match for the content's hash", hashSidecar)
	}

	if len(events) == 0 || events[len(events)-1].Phase != Completed {
		t.Errorf("expected a final Completed event, got %+v", events)
	}
}

func TestFetch_HashMismatchDeletesFile(t *testing.T) {
	t.Parallel()

	content := []byte("the real content")
	doer := &fakeDoer{do: func(req *http.Request) (*http.Response, error) {
		return newOKResponse(content), nil
	}}

	fs := &common.RealFS{}
	target := filepath.Join(t.TempDir(), "artifact.tar.gz")
	fetcher := New(fs, clock.New())

	err := fetcher.Fetch(context.Background(), "https://example.com/artifact.tar.gz", target, Options{
		ExpectedHash: "sha256:" + sha256Hex([]byte("not the real content")),
		ExpectedSize: int64(len(content)),
		Client:       doer,
	}, nil)

	if !uerr.Is(err, uerr.HashMismatch) {
		t.Fatalf("Fetch error = %v, want HashMismatch", err)
	}
	if _, statErr := fs.Stat(target); !common.IsNotExistErr(statErr) {
		t.Error("expected the mismatched file to be deleted")
	}
}

func TestFetch_SmartSkipWhenHashSidecarMatches(t *testing.T) {
	t.Parallel()

	content := []byte("already downloaded and verified")
	hash := "sha256:" + sha256Hex(content)

	fs := &common.RealFS{}
	target := filepath.Join(t.TempDir(), "artifact.tar.gz")
	if err := fs.WriteFile(target, content, common.OwnerRWPerms); err != nil {
		t.Fatalf("seeding target file: %v", err)
	}
	if err := fs.WriteFile(target+hashSuffix, []byte(hash), common.OwnerRWPerms); err != nil {
		t.Fatalf("seeding hash sidecar: %v", err)
	}

	called := false
	doer := &fakeDoer{do: func(req *http.Request) (*http.Response, error) {
		called = true
		return newOKResponse(content), nil
	}}

	fetcher := New(fs, clock.New())
	var events []ProgressEvent
	err := fetcher.Fetch(context.Background(), "https://example.com/artifact.tar.gz", target, Options{
		ExpectedHash: hash,
		ExpectedSize: int64(len(content)),
		Client:       doer,
	}, func(ev ProgressEvent) { events = append(events, ev) })
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if called {
		t.Error("expected the smart-skip path to avoid any HTTP call")
	}
	if len(events) != 1 || events[0].Phase != Completed {
		t.Errorf("expected exactly one Completed event from the skip path, got %+v", events)
	}
}

func TestFetch_ResumesFromPartialFile(t *testing.T) {
	t.Parallel()

	full := bytes.Repeat([]byte("b"), 1000)
	already := full[:400]
	remaining := full[400:]

	fs := &common.RealFS{}
	target := filepath.Join(t.TempDir(), "artifact.tar.gz")
	if err := fs.WriteFile(target, already, common.OwnerRWPerms); err != nil {
		t.Fatalf("seeding partial file: %v", err)
	}

	meta := Metadata{
		URL:             "https://example.com/artifact.tar.gz",
		ExpectedSize:    int64(len(full)),
		DownloadedBytes: int64(len(already)),
		TargetVersion:   "0.1.0",
	}
	if err := writeMetadata(fs, target, meta); err != nil {
		t.Fatalf("seeding metadata: %v", err)
	}

	var rangeHeaders []string
	doer := &fakeDoer{do: func(req *http.Request) (*http.Response, error) {
		rng := req.Header.Get("Range")
		rangeHeaders = append(rangeHeaders, rng)
		if rng == "" {
			return newOKResponse(full), nil
		}
		// Both the probe (bytes=0-0) and the real resumed request
		// (bytes=400-) get a 206 in this fake: the probe only reads 1 byte
		// via io.LimitReader in probeRangeSupport, so returning the full
		// remaining body for both is safe.
		return &http.Response{
			StatusCode: http.StatusPartialContent,
			Body:       io.NopCloser(bytes.NewReader(remaining)),
			Header:     http.Header{"Content-Range": []string{"bytes 400-999/1000"}},
		}, nil
	}}

	fetcher := New(fs, clock.New())
	var events []ProgressEvent
	err := fetcher.Fetch(context.Background(), "https://example.com/artifact.tar.gz", target, Options{
		ExpectedHash:  "sha256:" + sha256Hex(full),
		ExpectedSize:  int64(len(full)),
		TargetVersion: "0.1.0",
		Resume:        true,
		Client:        doer,
	}, func(ev ProgressEvent) { events = append(events, ev) })
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	got, err := fs.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, full) {
		t.Errorf("resumed download produced %d bytes, want the full %d-byte content", len(got), len(full))
	}

	sawResuming := false
	for _, ev := range events {
		if ev.Phase == Resuming {
			sawResuming = true
		}
	}
	if !sawResuming {
		t.Errorf("expected a Resuming-phase event, got %+v", events)
	}
	if len(rangeHeaders) < 2 || !strings.HasPrefix(rangeHeaders[len(rangeHeaders)-1], "bytes=400-") {
		t.Errorf("range headers = %v, want the final request to ask for bytes=400-", rangeHeaders)
	}
}

func TestFetch_MismatchedMetadataRestartsFromZero(t *testing.T) {
	t.Parallel()

	full := []byte("brand new content, not a resume")
	fs := &common.RealFS{}
	target := filepath.Join(t.TempDir(), "artifact.tar.gz")

	// Seed a partial file whose metadata doesn't match this fetch's
	// parameters (different target version) — must be discarded, not
	// resumed from.
	if err := fs.WriteFile(target, []byte("stale partial"), common.OwnerRWPerms); err != nil {
		t.Fatalf("seeding stale partial: %v", err)
	}
	if err := writeMetadata(fs, target, Metadata{
		URL:             "https://example.com/artifact.tar.gz",
		ExpectedSize:    int64(len(full)),
		DownloadedBytes: 13,
		TargetVersion:   "some-other-version",
	}); err != nil {
		t.Fatalf("seeding metadata: %v", err)
	}

	doer := &fakeDoer{do: func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("Range") != "" {
			t.Errorf("did not expect a Range header on a restarted-from-zero fetch")
		}
		return newOKResponse(full), nil
	}}

	fetcher := New(fs, clock.New())
	err := fetcher.Fetch(context.Background(), "https://example.com/artifact.tar.gz", target, Options{
		ExpectedHash:  "sha256:" + sha256Hex(full),
		ExpectedSize:  int64(len(full)),
		TargetVersion: "0.1.0",
		Resume:        true,
		Client:        doer,
	}, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	got, err := fs.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, full) {
		t.Error("expected the mismatched-metadata fetch to restart from zero and produce the full fresh content")
	}
}

func TestFetch_CancellationPreservesPartialState(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	go func() {
		_, _ = pw.Write(bytes.Repeat([]byte("c"), chunkSize))
		// Block until the test is done; the reader only advances via this
		// one write, so Fetch observes cancellation rather than EOF.
		<-block
		_ = pw.Close()
	}()

	doer := &fakeDoer{do: func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: pr, Header: http.Header{}}, nil
	}}

	fs := &common.RealFS{}
	target := filepath.Join(t.TempDir(), "artifact.tar.gz")
	fetcher := New(fs, clock.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- fetcher.Fetch(ctx, "https://example.com/artifact.tar.gz", target, Options{
			ExpectedSize: 10_000_000,
			Client:       doer,
		}, nil)
	}()

	cancel()
	err := <-done
	if !uerr.Is(err, uerr.Cancelled) {
		t.Fatalf("Fetch error = %v, want Cancelled", err)
	}

	if _, statErr := fs.Stat(target + metadataSuffix); statErr != nil {
		t.Errorf("expected metadata to be preserved for future resume, stat error: %v", statErr)
	}
}

func TestHashesEqual(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b string
		want bool
	}{
		{"sha256:ABCDEF", "abcdef", true},
		{"abcdef", "sha256:abcdef", true},
		{"abcdef", "ABCDEF", true},
		{"abcdef", "123456", false},
	}
	for _, tc := range cases {
		if got := hashesEqual(tc.a, tc.b); got != tc.want {
			t.Errorf("hashesEqual(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestMetadataSameTask(t *testing.T) {
	t.Parallel()

	base := Metadata{URL: "https://x/a", ExpectedSize: 100, TargetVersion: "1.0.0"}
	same := base
	diffURL := base
	diffURL.URL = "https://x/b"

	if !base.sameTask(same) {
		t.Error("expected identical tuples to match")
	}
	if base.sameTask(diffURL) {
		t.Error("expected a different URL to not match")
	}
}
