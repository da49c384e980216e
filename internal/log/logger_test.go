package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netweaver/internal/config"
)

func newTestLogger(t *testing.T, cfg config.LogConfig) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := newLogrus(cfg, &buf)
	require.NoError(t, err)
	return &logrusAdapter{entry: logrus.NewEntry(l)}, &buf
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newTestLogger(t, config.LogConfig{Level: "warn", Format: "text"})

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")

	assert.False(t, l.IsDebugEnabled())
	assert.False(t, l.IsInfoEnabled())
}

func TestJSONFormat(t *testing.T) {
	l, buf := newTestLogger(t, config.LogConfig{Level: "info", Format: "json"})

	l.WithFields(map[string]interface{}{"proto": "ICMP", "len": 28}).Info("packet sent")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "packet sent", entry["msg"])
	assert.Equal(t, "ICMP", entry["proto"])
	assert.Equal(t, float64(28), entry["len"])
}

func TestPatternFormat(t *testing.T) {
	l, buf := newTestLogger(t, config.LogConfig{
		Level:      "debug",
		Format:     "pattern",
		Pattern:    "[%level] %func %msg%field",
		TimeFormat: "15:04:05",
	})

	l.WithField("b", 2).WithField("a", 1).WithError(errors.New("boom")).Debug("hello")

	line := buf.String()
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.Contains(t, line, "[DEBUG] TestPatternFormat hello a=1,b=2,error=boom")
}

func TestInvalidConfig(t *testing.T) {
	_, err := newLogrus(config.LogConfig{Level: "loud", Format: "json"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "invalid log level")

	_, err = newLogrus(config.LogConfig{Level: "info", Format: "xml"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "unsupported log format")

	_, err = New(config.LogConfig{
		Level:   "info",
		Format:  "json",
		Outputs: config.LogOutputsConfig{File: config.FileOutputConfig{Enabled: true}},
	})
	assert.ErrorContains(t, err, "path")
}

func TestInitWithFileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "netweaver.log")
	cfg := config.LogConfig{
		Level:  "info",
		Format: "json",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{
				Enabled: true,
				Path:    logPath,
				Rotation: config.RotationConfig{
					MaxSizeMB:  10,
					MaxBackups: 3,
					MaxAgeDays: 7,
				},
			},
		},
	}
	require.NoError(t, Init(cfg))
	t.Cleanup(func() { SetLogger(nil) })

	GetLogger().WithField("key", "value").Info("written to file")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestGetLoggerBeforeInit(t *testing.T) {
	SetLogger(nil)
	l := GetLogger()
	require.NotNil(t, l)
	l.Error("dropped")
	assert.False(t, l.IsInfoEnabled())
}

func TestMultiWriterKeepsGoing(t *testing.T) {
	var a, b bytes.Buffer
	w := NewMultiWriter().Add(&a).Add(failingWriter{}).Add(&b)

	n, err := w.Write([]byte("line"))
	assert.Equal(t, 4, n)
	assert.Error(t, err)
	assert.Equal(t, "line", a.String())
	assert.Equal(t, "line", b.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }
