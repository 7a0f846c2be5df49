// Package detector implements the Log Detector (spec.md §4.7): a per-start
// background task that polls a service's pane scrollback after boot and
// extracts the first plausible port number from a URL-like line.
package detector

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/atimmer/devservers/pkg/logging"
)

const (
	pollInterval = 500 * time.Millisecond
	totalTimeout = 15 * time.Second
)

// portLinePattern matches an optional http(s):// scheme followed by a
// loopback-ish host and a port (spec.md §4.7).
var portLinePattern = regexp.MustCompile(`(?i)(?:https?://)?(?:localhost|127\.0\.0\.1|\[::1\]|0\.0\.0\.0):(\d+)`)

// CaptureFunc returns the current pane scrollback snapshot for a service.
type CaptureFunc func() string

// Detect polls capture at pollInterval for up to totalTimeout, diffing each
// new snapshot against the previous one and scanning the new text for a
// port match. Lines containing "in use" or "eaddrinuse" are skipped; the
// last match in the considered text wins. Returns (port, true) on success,
// (0, false) if nothing was found before ctx is canceled or time runs out
// (spec.md §4.7, §8).
func Detect(ctx context.Context, capture CaptureFunc) (int, bool) {
	ctx, cancel := context.WithTimeout(ctx, totalTimeout)
	defer cancel()

	baseline := capture()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, false
		case <-ticker.C:
			snapshot := capture()
			if snapshot == baseline {
				continue
			}
			diff := diffNewLines(baseline, snapshot)
			baseline = snapshot
			if port, ok := extractPort(diff); ok {
				return port, true
			}
		}
	}
}

// diffNewLines returns the text appended to next since prev, approximated by
// returning everything past len(prev) without comparing the two; when next
// is not longer than prev, all of next is returned.
func diffNewLines(prev, next string) string {
	if len(next) <= len(prev) {
		return next
	}
	return next[len(prev):]
}

// extractPort scans text line by line for a port match, skipping noise
// lines, and returns the last match found.
func extractPort(text string) (int, bool) {
	var found int
	var ok bool
	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "in use") || strings.Contains(lower, "eaddrinuse") {
			continue
		}
		matches := portLinePattern.FindAllStringSubmatch(line, -1)
		for _, m := range matches {
			port, err := strconv.Atoi(m[1])
			if err != nil || port < 1 || port > 65535 {
				continue
			}
			found = port
			ok = true
		}
	}
	if !ok {
		logging.Debug("LogDetector", "no port found in scanned text")
	}
	return found, ok
}
