package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatterExpandsPattern(t *testing.T) {
	f := &formatter{pattern: "%time [%level] %field %msg%n", time: "15:04:05"}
	entry := &logrus.Entry{
		Time:    time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC),
		Level:   logrus.WarnLevel,
		Message: "rebuild failed",
		Data:    logrus.Fields{"patterns": 3, "app": "com.example"},
	}

	out, err := f.Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "10:20:30 [WARNING] app=com.example,patterns=3 rebuild failed\n", string(out))
}

func TestFormatterEmptyFieldsKeepSingleSpacing(t *testing.T) {
	entry := &logrus.Entry{
		Time:    time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC),
		Level:   logrus.InfoLevel,
		Message: "engine stopped",
		Data:    logrus.Fields{},
	}

	tests := []struct {
		pattern string
		want    string
	}{
		{"%time [%level] %field %msg%n", "10:20:30 [INFO] engine stopped\n"},
		{"[%level] %msg %field", "[INFO] engine stopped\n"},
		{"%field", "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			f := &formatter{pattern: tt.pattern, time: "15:04:05"}
			out, err := f.Format(entry)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))
		})
	}
}

func TestFormatterAppendsNewline(t *testing.T) {
	f := &formatter{pattern: "%msg", time: time.RFC3339}
	out, err := f.Format(&logrus.Entry{Message: "x", Data: logrus.Fields{}})
	require.NoError(t, err)
	assert.Equal(t, "x\n", string(out))
}

func TestFormatterWithoutCaller(t *testing.T) {
	f := &formatter{pattern: "%caller %func", time: time.RFC3339}
	out, _ := f.Format(&logrus.Entry{Data: logrus.Fields{}})
	assert.Equal(t, "unknown unknown\n", string(out))
}

func TestAdapterLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(&LoggerConfig{Level: "warn", Pattern: "[%level] %field %msg"}, &buf)

	l.Info("hidden")
	l.WithField("label", "IMEI").Warnf("leak %d", 1)
	l.WithError(errors.New("disk full")).Error("capture")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[WARNING] label=IMEI leak 1", lines[0])
	assert.Equal(t, "[ERROR] error=disk full capture", lines[1])
	assert.False(t, l.IsInfoEnabled())
	assert.False(t, l.IsDebugEnabled())
}

func TestNewFallsBackToInfo(t *testing.T) {
	l, err := New(&LoggerConfig{Level: "nonsense"})
	require.NoError(t, err)
	assert.True(t, l.IsInfoEnabled())
	assert.False(t, l.IsDebugEnabled())
}

func TestNewWithFileAppender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leakwatch.log")
	l, err := New(&LoggerConfig{
		Level:   "debug",
		Pattern: "%msg",
		Appenders: []AppenderConfig{
			{Type: AppenderFile, Options: map[string]interface{}{"filename": path, "max_size": 1}},
		},
	})
	require.NoError(t, err)

	l.Debug("written to file")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "written to file\n", string(data))
}

func TestNewRejectsBadAppenders(t *testing.T) {
	_, err := New(&LoggerConfig{Appenders: []AppenderConfig{{Type: "loki"}}})
	assert.Error(t, err)

	_, err = New(&LoggerConfig{Appenders: []AppenderConfig{{Type: AppenderFile}}})
	assert.Error(t, err)
}

func TestGetLoggerBeforeInit(t *testing.T) {
	assert.NotNil(t, GetLogger())
}
