// Package capture records verified webhook deliveries to disk for fixture
// collection and replay debugging. It is off by default and costs one atomic
// load per delivery when disabled.
package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// envCaptureDir overrides where captures are written. Setting it also
// enables capture, so a one-off recording session needs no code change.
const envCaptureDir = "BOARDCAST_CAPTURE_DIR"

const defaultCaptureDir = "captures"

var (
	sessionID  = time.Now().Format("20060102-150405")
	captureSeq uint64
	enabled    atomic.Bool
)

func init() {
	if os.Getenv(envCaptureDir) != "" {
		enabled.Store(true)
	}
}

// Enabled reports whether capture is currently active.
func Enabled() bool {
	return enabled.Load()
}

// Enable turns on capture for the running process.
func Enable() {
	enabled.Store(true)
}

// Disable turns off capture for the running process.
func Disable() {
	enabled.Store(false)
}

// WriteBlob stores raw bytes under the capture directory for this session.
// Failures are logged, never returned: capture must not affect the request
// path it observes.
func WriteBlob(category, ext string, data []byte) {
	if !Enabled() {
		return
	}
	writeFile(category, ext, data)
}

// WriteJSON marshals the payload to indented JSON and stores it.
func WriteJSON(category string, payload any) {
	if !Enabled() {
		return
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		log.Warn().Str("category", category).Err(err).Msg("capture: failed to marshal payload")
		return
	}
	writeFile(category, "json", data)
}

func captureDir() string {
	if dir := os.Getenv(envCaptureDir); dir != "" {
		return dir
	}
	return defaultCaptureDir
}

func writeFile(category, ext string, data []byte) {
	sessionDir := filepath.Join(captureDir(), sessionID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		log.Warn().Str("dir", sessionDir).Err(err).Msg("capture: failed to create directory")
		return
	}

	seq := atomic.AddUint64(&captureSeq, 1)
	path := filepath.Join(sessionDir, fmt.Sprintf("%s-%04d.%s", category, seq, ext))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn().Str("path", path).Err(err).Msg("capture: failed to write file")
		return
	}

	log.Debug().Str("path", path).Msg("capture: wrote delivery")
}
