package detector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtractPortFindsLastMatch(t *testing.T) {
	text := "Local: http://localhost:5173\nnetwork: http://127.0.0.1:5174"
	port, ok := extractPort(text)
	assert.True(t, ok)
	assert.Equal(t, 5174, port)
}

func TestExtractPortIgnoresInUseNoise(t *testing.T) {
	port, ok := extractPort("Error: port 3000 in use\nretrying on http://localhost:3001")
	assert.True(t, ok)
	assert.Equal(t, 3001, port)
}

func TestExtractPortIgnoresEaddrinuse(t *testing.T) {
	_, ok := extractPort("Error: listen EADDRINUSE: address already in use :::3000")
	assert.False(t, ok)
}

func TestExtractPortNoMatch(t *testing.T) {
	_, ok := extractPort("starting up...\ncompiling modules")
	assert.False(t, ok)
}

// sequencedCapture returns snapshots in order, repeating the last one once
// exhausted, simulating a pane whose scrollback grows then settles.
func sequencedCapture(snapshots []string) CaptureFunc {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(snapshots) {
			return snapshots[len(snapshots)-1]
		}
		s := snapshots[i]
		i++
		return s
	}
}

func TestDetectFindsPortInNewSnapshot(t *testing.T) {
	capture := sequencedCapture([]string{
		"",
		"booting...",
		"booting...\nLocal: http://localhost:5173",
		"booting...\nLocal: http://localhost:5173",
	})

	// Shrink the poll interval for the test by driving Detect manually would
	// require exporting internals; instead rely on the real interval but cap
	// the test timeout generously below the 15s ceiling.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	port, ok := Detect(ctx, capture)
	assert.True(t, ok)
	assert.Equal(t, 5173, port)
}

func TestDetectTimesOutWithNoPort(t *testing.T) {
	capture := func() string { return "still booting" }

	ctx, cancel := context.WithTimeout(context.Background(), 1200*time.Millisecond)
	defer cancel()

	_, ok := Detect(ctx, capture)
	assert.False(t, ok)
}
