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

import "time"

// Phase is the download lifecycle stage carried on every ProgressEvent.
type Phase int

const (
	Starting Phase = iota
	Downloading
	Resuming
	Completed
	Failed
)

func (p Phase) String() string {
	switch p {
	case Starting:
		return "Starting"
	case Downloading:
		return "Downloading"
	case Resuming:
		return "Resuming"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ProgressEvent is the payload delivered to a ProgressSink at milestones and
// throttled intervals.
type ProgressEvent struct {
	DownloadedBytes int64
	TotalBytes      int64
	BytesPerSecond  float64
	ETASeconds      float64
	Percent         float64
	Phase           Phase
}

// ProgressSink receives download progress events. Implementations MUST be
// non-blocking — any heavy work belongs to the caller's own goroutine, not
// inline in the callback, matching spec.md §6's "MUST be non-blocking"
// requirement for the external ProgressSink interface.
type ProgressSink func(ProgressEvent)

// throttle decides, independent of any one component, whether enough time
// or enough incremental bytes have passed since the last emission to emit
// again. It implements the "whichever fires first" dual-axis rule from
// spec.md §4.5.
type throttle struct {
	interval      time.Duration
	byteThreshold int64

	lastEmit      time.Time
	bytesAtLast   int64
}

func newThrottle(interval time.Duration, byteThreshold int64) *throttle {
	return &throttle{interval: interval, byteThreshold: byteThreshold}
}

// shouldEmit reports whether an update should be emitted given the current
// wall-clock time and total downloaded bytes so far, and records the
// decision so the next call measures against this one.
func (t *throttle) shouldEmit(now time.Time, downloadedBytes int64) bool {
	if t.lastEmit.IsZero() {
		t.lastEmit = now
		t.bytesAtLast = downloadedBytes
		return true
	}
	elapsed := now.Sub(t.lastEmit)
	incrementalBytes := downloadedBytes - t.bytesAtLast
	if elapsed >= t.interval || incrementalBytes >= t.byteThreshold {
		t.lastEmit = now
		t.bytesAtLast = downloadedBytes
		return true
	}
	return false
}
