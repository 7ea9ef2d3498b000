package logging

import (
	"io"
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/natefinch/lumberjack.v2"

	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

// FileConfig configures the optional rotating copy of the process log.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Enabled reports whether a log file path has been configured
func (c FileConfig) Enabled() bool {
	return strings.TrimSpace(c.Path) != ""
}

// NewLogger builds the process logger. When file logging is enabled every
// record is also written, without terminal colors, to a rotating file.
// The returned closer must be called on shutdown; it is a no-op without a file.
func NewLogger(out io.Writer, cfg oplog.CLIConfig, file FileConfig) (log.Logger, io.Closer) {
	if !file.Enabled() {
		return oplog.NewLogger(out, cfg), nopCloser{}
	}

	rotating := &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
		Compress:   file.Compress,
	}
	w := io.MultiWriter(out, &ansiStripWriter{w: rotating})
	return oplog.NewLogger(w, cfg), rotating
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ansiStripWriter removes terminal escape sequences before writing.
type ansiStripWriter struct {
	w io.Writer
}

func (a *ansiStripWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(a.w, stripansi.Strip(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SafeFilename converts a string to a safe filename by replacing problematic characters
func SafeFilename(s string) string {
	r := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
		"...", "",
	)
	return r.Replace(s)
}
