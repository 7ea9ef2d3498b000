// Package capture takes failure screenshots from whatever driver handle the
// run has available.
package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-witness/logging"
	"github.com/ethereum-optimism/infra/op-witness/metrics"
)

const (
	DefaultTimeout  = 5 * time.Second
	timestampLayout = "20060102_150405"
)

// ErrNoDriver is returned when no driver handle is available.
var ErrNoDriver = errors.New("no driver available for screenshot")

// Driver produces a PNG image of the current screen.
type Driver interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Screenshot is a saved image.
type Screenshot struct {
	Path   string
	Base64 string
}

// Capturer saves screenshots into a flat directory.
type Capturer struct {
	driver  Driver
	dir     string
	timeout time.Duration
	now     func() time.Time
	log     log.Logger
}

// Config configures a Capturer. Driver may be nil, in which case every
// capture reports ErrNoDriver.
type Config struct {
	Log     log.Logger
	Driver  Driver
	Dir     string
	Timeout time.Duration
	Now     func() time.Time
}

func New(cfg Config) *Capturer {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join("reports", "screenshots")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Capturer{
		driver:  cfg.Driver,
		dir:     cfg.Dir,
		timeout: cfg.Timeout,
		now:     cfg.Now,
		log:     cfg.Log.New("component", "capture"),
	}
}

// Available reports whether a driver handle is present.
func (c *Capturer) Available() bool {
	return c != nil && c.driver != nil
}

// Capture takes a screenshot for testName, saves it as
// <dir>/<testName>_<timestamp>.png and returns it with its base64 encoding.
func (c *Capturer) Capture(ctx context.Context, testName string) (*Screenshot, error) {
	if !c.Available() {
		metrics.RecordScreenshot("unavailable")
		return nil, ErrNoDriver
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := c.driver.Screenshot(ctx)
		ch <- result{data, err}
	}()

	var data []byte
	select {
	case res := <-ch:
		if res.err != nil {
			metrics.RecordScreenshot("failed")
			return nil, fmt.Errorf("screenshot failed: %w", res.err)
		}
		data = res.data
	case <-ctx.Done():
		metrics.RecordScreenshot("failed")
		return nil, fmt.Errorf("screenshot timed out after %v", c.timeout)
	}
	if len(data) == 0 {
		metrics.RecordScreenshot("failed")
		return nil, errors.New("screenshot is empty")
	}

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		metrics.RecordScreenshot("failed")
		return nil, fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	name := fmt.Sprintf("%s_%s.png", logging.SafeFilename(testName), c.now().Format(timestampLayout))
	path := filepath.Join(c.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		metrics.RecordScreenshot("failed")
		return nil, fmt.Errorf("failed to save screenshot: %w", err)
	}

	metrics.RecordScreenshot("captured")
	c.log.Info("Screenshot saved", "test", testName, "path", path)
	return &Screenshot{
		Path:   path,
		Base64: base64.StdEncoding.EncodeToString(data),
	}, nil
}

var _ Driver = (*DisplayDriver)(nil)

// DisplayDriver grabs one frame from an X display with ffmpeg.
type DisplayDriver struct {
	Binary    string
	Display   string
	VideoSize string
}

func (d *DisplayDriver) Screenshot(ctx context.Context) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.Binary,
		"-loglevel", "error",
		"-f", "x11grab",
		"-video_size", d.VideoSize,
		"-i", d.Display,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}
