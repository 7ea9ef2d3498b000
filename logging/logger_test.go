package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

func TestNewLogger_WithoutFile(t *testing.T) {
	var buf bytes.Buffer
	cfg := oplog.DefaultCLIConfig()
	cfg.Color = false

	logger, closer := NewLogger(&buf, cfg, FileConfig{})
	require.NotNil(t, logger)
	logger.Info("hello", "k", "v")
	require.NoError(t, closer.Close())

	assert.Contains(t, buf.String(), "hello")
}

func TestNewLogger_TeesToRotatingFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "witness.log")
	cfg := oplog.DefaultCLIConfig()
	cfg.Color = true

	logger, closer := NewLogger(&buf, cfg, FileConfig{Path: path, MaxSizeMB: 1, MaxBackups: 1})
	logger.Info("recording started", "test", "TestLogin")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "recording started")
	assert.NotContains(t, string(data), "\x1b[")
	assert.Contains(t, buf.String(), "recording started")
}

func TestSafeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"TestLogin", "TestLogin"},
		{"TestLogin/sub case", "TestLogin_sub_case"},
		{`a:b*c?d"e<f>g|h\i`, "a_b_c_d_e_f_g_h_i"},
		{"pkg...name", "pkgname"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeFilename(tt.in))
		})
	}
}

func TestTailBuffer(t *testing.T) {
	b := NewTailBuffer(8)
	_, err := b.Write([]byte("abcd"))
	require.NoError(t, err)
	assert.False(t, b.Truncated())
	assert.Equal(t, "abcd", b.String())

	_, err = b.Write([]byte("efghijkl"))
	require.NoError(t, err)
	assert.Equal(t, "efghijkl", b.String())
	assert.Equal(t, int64(12), b.TotalBytes())
	assert.True(t, b.Truncated())
}

func TestTailBuffer_Concurrent(t *testing.T) {
	b := NewTailBuffer(0)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = b.Write([]byte(strings.Repeat("x", 100)))
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1000), b.TotalBytes())
	assert.Len(t, b.Bytes(), 1000)
}
