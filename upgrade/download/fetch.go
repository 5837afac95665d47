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

// Package download implements the streaming artifact fetcher: provider-
// aware timeouts, resumable transfer via Range requests and sidecar
// metadata, SHA-256 integrity verification, and throttled progress
// reporting, entirely in O(chunk size) memory.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nuwax-cli/stackupgrade/common"
	"github.com/nuwax-cli/stackupgrade/upgrade/uerr"
)

// chunkSize is the read/write unit for streaming the response body, per
// spec.md §4.5's "suggested 8 KiB" streaming-write guidance.
const chunkSize = 8 * 1024

const (
	progressInterval = 5 * time.Second
	progressBytes    = 500 * 1024 * 1024 // 500 MiB
)

// Options parameterizes a single Fetch call.
type Options struct {
	// ExpectedHash, if non-empty, is compared (case-insensitively, with an
	// optional "sha256:" prefix stripped) against the SHA-256 of the
	// completed file.
	ExpectedHash string
	// ExpectedSize is the artifact's declared size, used both for resume
	// task matching and to detect a server that reports a size smaller than
	// what's already downloaded (treated as "start over").
	ExpectedSize int64
	// TargetVersion participates in the resume task-match tuple
	// (url, expected_size, target_version).
	TargetVersion string
	// Resume enables the resume protocol. When false, any existing partial
	// file and metadata are discarded and the fetch starts from byte 0.
	Resume bool
	// Client is the HTTP capability to use. Required.
	Client HTTPDoer
}

// Fetcher streams one artifact at a time to a target path, matching the
// spec's "a single downloader instance is single-task" constraint; run
// multiple Fetcher values concurrently for concurrent downloads.
type Fetcher struct {
	fs    common.FS
	clock clock.Clock
}

// New constructs a Fetcher. clk is injected so tests can control time
// without sleeping, following the teacher's own use of
// github.com/benbjohnson/clock for fake-clock testing.
func New(fs common.FS, clk clock.Clock) *Fetcher {
	return &Fetcher{fs: fs, clock: clk}
}

// Fetch writes the artifact at rawURL to targetPath, reporting progress via
// sink (which may be nil). On success, targetPath is byte-identical to the
// remote resource.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, targetPath string, opts Options, sink ProgressSink) error {
	emit := func(ev ProgressEvent) {
		if sink != nil {
			sink(ev)
		}
	}

	if skipped, err := f.trySmartSkip(targetPath, opts, emit); err != nil {
		return err
	} else if skipped {
		return nil
	}

	resumeFrom, phase, err := f.resolveResumeOffset(ctx, rawURL, targetPath, opts)
	if err != nil {
		return err
	}

	emit(ProgressEvent{Phase: phase, DownloadedBytes: resumeFrom, TotalBytes: opts.ExpectedSize})

	tier := ClassifyURL(rawURL)
	reqCtx, cancel := context.WithTimeout(ctx, tier.ReadTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return uerr.WithResource(uerr.NetworkError, rawURL, fmt.Errorf("building request: %w", err))
	}
	if resumeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	resp, err := opts.Client.Do(req)
	if err != nil {
		return classifyTransportErr(ctx, rawURL, err)
	}
	defer resp.Body.Close()

	if resumeFrom > 0 && resp.StatusCode != http.StatusPartialContent {
		// The server didn't honor the range after all; restart from 0
		// against the body it actually sent.
		resumeFrom = 0
		phase = Starting
		if err := f.discardPartial(targetPath); err != nil {
			return err
		}
	} else if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return uerr.WithResource(uerr.NetworkError, rawURL, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	return f.stream(ctx, rawURL, targetPath, resumeFrom, resp.Body, opts, phase, emit)
}

// trySmartSkip implements the pre-fetch smart-skip rule: if the target file
// and its cached hash sidecar already agree with expected_hash, the fetch
// is a no-op.
func (f *Fetcher) trySmartSkip(targetPath string, opts Options, emit func(ProgressEvent)) (bool, error) {
	if opts.ExpectedHash == "" {
		return false, nil
	}
	exists, err := common.Exists(f.fs, targetPath)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	cached, ok := readHashSidecar(f.fs, targetPath)
	if !ok {
		return false, nil
	}
	if !hashesEqual(cached, opts.ExpectedHash) {
		// Stale or mismatched cache: clear it so a fresh verify happens
		// after this download completes.
		_ = removeHashSidecar(f.fs, targetPath)
		return false, nil
	}
	size, err := sizeOf(f.fs, targetPath)
	if err != nil {
		return false, err
	}
	emit(ProgressEvent{Phase: Completed, DownloadedBytes: size, TotalBytes: size, Percent: 100})
	return true, nil
}

// resolveResumeOffset implements the resume protocol of spec.md §4.5,
// returning the byte offset to request from and the phase the transfer
// should be reported under.
func (f *Fetcher) resolveResumeOffset(ctx context.Context, rawURL, targetPath string, opts Options) (int64, Phase, error) {
	if !opts.Resume {
		if err := f.discardPartial(targetPath); err != nil {
			return 0, Starting, err
		}
		return 0, Starting, nil
	}

	meta, ok, err := readMetadata(f.fs, targetPath)
	if err != nil {
		return 0, Starting, err
	}
	if !ok {
		if err := f.discardPartial(targetPath); err != nil {
			return 0, Starting, err
		}
		return 0, Starting, nil
	}

	want := Metadata{URL: rawURL, ExpectedSize: opts.ExpectedSize, TargetVersion: opts.TargetVersion}
	localSize, err := sizeOf(f.fs, targetPath)
	if err != nil {
		return 0, Starting, err
	}

	if !meta.sameTask(want) || localSize != meta.DownloadedBytes || localSize >= opts.ExpectedSize {
		if err := f.discardPartial(targetPath); err != nil {
			return 0, Starting, err
		}
		return 0, Starting, nil
	}

	if !f.probeRangeSupport(ctx, rawURL, opts.Client) {
		if err := f.discardPartial(targetPath); err != nil {
			return 0, Starting, err
		}
		return 0, Starting, nil
	}

	return localSize, Resuming, nil
}

// probeRangeSupport issues a 1-byte ranged GET and reports whether the
// server answered with 206 Partial Content (the known resumable response).
func (f *Fetcher) probeRangeSupport(ctx context.Context, rawURL string, client HTTPDoer) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1))
	return resp.StatusCode == http.StatusPartialContent
}

func (f *Fetcher) discardPartial(targetPath string) error {
	if err := f.fs.Remove(targetPath); err != nil && !common.IsNotExistErr(err) {
		return fmt.Errorf("removing partial file: %w", err)
	}
	return removeMetadata(f.fs, targetPath)
}

// stream reads body in chunkSize chunks, writes them to targetPath
// (appending if resumeFrom > 0), hashes the whole file incrementally, and
// emits throttled progress + metadata updates.
func (f *Fetcher) stream(ctx context.Context, rawURL, targetPath string, resumeFrom int64, body io.Reader, opts Options, phase Phase, emit func(ProgressEvent)) error {
	flag := os.O_CREATE | os.O_WRONLY
	if resumeFrom > 0 {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}
	out, err := f.fs.OpenFile(targetPath, flag, common.OwnerRWPerms)
	if err != nil {
		return uerr.WithResource(uerr.PermissionDenied, targetPath, fmt.Errorf("opening target file: %w", err))
	}
	defer out.Close()

	hasher := sha256.New()
	if resumeFrom > 0 {
		if err := rehashExisting(f.fs, targetPath, resumeFrom, hasher); err != nil {
			return err
		}
	}

	downloaded := resumeFrom
	startTime := f.clock.Now()
	th := newThrottle(progressInterval, progressBytes)
	buf := make([]byte, chunkSize)

	for {
		if err := ctx.Err(); err != nil {
			if perr := f.persistProgress(targetPath, rawURL, opts, downloaded, startTime); perr != nil {
				return perr
			}
			emit(ProgressEvent{Phase: Failed, DownloadedBytes: downloaded, TotalBytes: opts.ExpectedSize})
			return uerr.New(uerr.Cancelled, err)
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return uerr.WithResource(uerr.FileOpFailed, targetPath, fmt.Errorf("writing chunk: %w", err))
			}
			hasher.Write(buf[:n])
			downloaded += int64(n)

			now := f.clock.Now()
			if th.shouldEmit(now, downloaded) {
				if err := f.persistProgress(targetPath, rawURL, opts, downloaded, startTime); err != nil {
					return err
				}
				emit(progressEvent(phase, downloaded, opts.ExpectedSize, startTime, now))
				phase = Downloading
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			emit(ProgressEvent{Phase: Failed, DownloadedBytes: downloaded, TotalBytes: opts.ExpectedSize})
			return uerr.WithResource(uerr.NetworkError, rawURL, fmt.Errorf("reading response body: %w", readErr))
		}
	}

	if err := out.Close(); err != nil {
		return uerr.WithResource(uerr.FileOpFailed, targetPath, fmt.Errorf("closing target file: %w", err))
	}

	finalHash := hex.EncodeToString(hasher.Sum(nil))
	if opts.ExpectedHash != "" && !hashesEqual(finalHash, opts.ExpectedHash) {
		_ = f.fs.Remove(targetPath)
		emit(ProgressEvent{Phase: Failed, DownloadedBytes: downloaded, TotalBytes: opts.ExpectedSize})
		return uerr.WithResource(uerr.HashMismatch, targetPath,
			fmt.Errorf("sha256 mismatch: got %s, want %s", finalHash, opts.ExpectedHash))
	}

	if err := removeMetadata(f.fs, targetPath); err != nil {
		return err
	}
	// The sidecar holds the raw hex digest, no "sha256:" prefix; hashesEqual
	// strips an optional prefix from either side when comparing.
	if err := writeHashSidecar(f.fs, targetPath, finalHash); err != nil {
		return err
	}
	emit(ProgressEvent{Phase: Completed, DownloadedBytes: downloaded, TotalBytes: opts.ExpectedSize, Percent: 100})
	return nil
}

func (f *Fetcher) persistProgress(targetPath, rawURL string, opts Options, downloaded int64, startTime time.Time) error {
	return writeMetadata(f.fs, targetPath, Metadata{
		URL:             rawURL,
		ExpectedSize:    opts.ExpectedSize,
		ExpectedHash:    opts.ExpectedHash,
		DownloadedBytes: downloaded,
		StartTime:       startTime,
		LastUpdate:      f.clock.Now(),
		TargetVersion:   opts.TargetVersion,
	})
}

func progressEvent(phase Phase, downloaded, total int64, startTime, now time.Time) ProgressEvent {
	elapsed := now.Sub(startTime).Seconds()
	var bps float64
	if elapsed > 0 {
		bps = float64(downloaded) / elapsed
	}
	var percent float64
	if total > 0 {
		percent = 100 * float64(downloaded) / float64(total)
	}
	var eta float64
	if bps > 0 && total > downloaded {
		eta = float64(total-downloaded) / bps
	}
	return ProgressEvent{
		Phase:           phase,
		DownloadedBytes: downloaded,
		TotalBytes:      total,
		BytesPerSecond:  bps,
		ETASeconds:      eta,
		Percent:         percent,
	}
}

// hashesEqual compares two SHA-256 textual forms, stripping an optional
// "sha256:" prefix from either side and comparing case-insensitively.
func hashesEqual(a, b string) bool {
	return strings.EqualFold(stripHashPrefix(a), stripHashPrefix(b))
}

func stripHashPrefix(h string) string {
	return strings.TrimPrefix(strings.ToLower(h), "sha256:")
}

// rehashExisting re-reads the already-downloaded prefix of targetPath into
// hasher so a resumed download's final hash covers the whole file, not just
// the bytes fetched in this call.
func rehashExisting(fs common.FS, targetPath string, n int64, hasher io.Writer) error {
	f, err := fs.OpenFile(targetPath, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("reopening partial file to rehash: %w", err)
	}
	defer f.Close()
	if _, err := io.CopyN(hasher, f, n); err != nil {
		return fmt.Errorf("rehashing partial file: %w", err)
	}
	return nil
}

// classifyTransportErr maps a transport-level Do() failure to the right
// error kind: a caller-cancelled context is Cancelled, a context deadline is
// TimedOut, anything else is NetworkError.
func classifyTransportErr(ctx context.Context, rawURL string, err error) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return uerr.New(uerr.Cancelled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return uerr.WithResource(uerr.TimedOut, rawURL, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return uerr.WithResource(uerr.TimedOut, rawURL, err)
	}
	return uerr.WithResource(uerr.NetworkError, rawURL, err)
}
