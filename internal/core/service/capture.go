package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Captures are meant for short support dumps, never long recordings that
// could fill the shared volume.
const CAPTURE_MAX_SECONDS = 600

// CaptureWriter records raw decoder JSON lines to a timestamped file for a
// bounded time window. Expiry is checked on every write, so the writer stays
// correct even if the scheduled stop never fires.
type CaptureWriter struct {
	dir            string
	defaultSeconds int
	systemId       string
	logger         *zap.Logger

	mu          sync.Mutex
	file        *os.File
	path        string
	activeUntil time.Time
	lastErr     string

	now func() time.Time
}

func NewCaptureWriter(dir string, defaultSeconds int, systemId string, logger *zap.Logger) *CaptureWriter {
	return &CaptureWriter{
		dir:            dir,
		defaultSeconds: defaultSeconds,
		systemId:       systemId,
		logger:         logger,
		now:            time.Now,
	}
}

// Start opens a new capture file, replacing any running capture. Returns the
// effective duration so the caller can schedule Stop.
func (c *CaptureWriter) Start(seconds int) (time.Duration, error) {
	if seconds <= 0 {
		seconds = c.defaultSeconds
	}
	if seconds <= 0 {
		seconds = 30
	}
	if seconds > CAPTURE_MAX_SECONDS {
		seconds = CAPTURE_MAX_SECONDS
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		c.rememberError(err)
		return 0, err
	}

	ts := c.now().UTC().Format("20060102T150405Z")
	path := filepath.Join(c.dir, fmt.Sprintf("rtl_433_capture_%s_%s.jsonl", c.systemId, ts))

	c.mu.Lock()
	c.closeLocked()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		c.file = nil
		c.path = ""
		c.lastErr = err.Error()
		c.activeUntil = time.Time{}
		c.mu.Unlock()
		c.logger.Error("capture start failed", zap.String("path", path), zap.Error(err))
		return 0, err
	}
	c.file = f
	c.path = path
	c.lastErr = ""
	c.activeUntil = c.now().Add(time.Duration(seconds) * time.Second)
	c.mu.Unlock()

	c.logger.Info("capture started", zap.Int("seconds", seconds), zap.String("path", path))
	return time.Duration(seconds) * time.Second, nil
}

// Stop closes the running capture, if any.
func (c *CaptureWriter) Stop() {
	c.mu.Lock()
	if c.file == nil {
		c.mu.Unlock()
		return
	}
	path := c.path
	c.closeLocked()
	c.mu.Unlock()

	c.logger.Info("capture completed", zap.String("path", path))
}

// Feed writes one raw line when a capture is active. A capture past its
// deadline is closed instead of written to.
func (c *CaptureWriter) Feed(line string) {
	if line == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return
	}
	if c.now().After(c.activeUntil) {
		c.closeLocked()
		return
	}
	if _, err := c.file.Write([]byte(strings.TrimRight(line, "\n") + "\n")); err != nil {
		c.lastErr = err.Error()
		c.closeLocked()
	}
}

// Active reports whether lines are currently being recorded.
func (c *CaptureWriter) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file != nil && !c.now().After(c.activeUntil)
}

// Status renders the capture state for the status endpoint.
func (c *CaptureWriter) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		if c.lastErr != "" {
			return fmt.Sprintf("idle (error: %s)", c.lastErr)
		}
		return "idle"
	}
	remaining := int(c.activeUntil.Sub(c.now()).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return fmt.Sprintf("capturing (%ds) %s", remaining, filepath.Base(c.path))
}

func (c *CaptureWriter) closeLocked() {
	if c.file != nil {
		_ = c.file.Sync()
		_ = c.file.Close()
	}
	c.file = nil
	c.activeUntil = time.Time{}
}

func (c *CaptureWriter) rememberError(err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
}
