package log

import (
	"fmt"
	"io"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	AppenderConsole = "console"
	AppenderFile    = "file"
)

// AppenderConfig selects one output. Options are decoded per type.
type AppenderConfig struct {
	Type    string                 `mapstructure:"type"`
	Options map[string]interface{} `mapstructure:"options"`
}

type ConsoleAppenderOpt struct {
	Stream string `mapstructure:"stream"` // stdout | stderr
}

// FileAppenderOpt configures a rotating log file. Zero sizes fall back to
// 100 MB per file and 5 backups.
type FileAppenderOpt struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`    // megabytes
	MaxBackups int    `mapstructure:"max_backups"` // files kept
	MaxAge     int    `mapstructure:"max_age"`     // days
	Compress   bool   `mapstructure:"compress"`
}

type MultiWriter struct {
	writers []io.Writer
}

func (m *MultiWriter) Write(p []byte) (n int, err error) {
	for _, w := range m.writers {
		_, e := w.Write(p)
		if e != nil {
			err = e
		}
	}
	return len(p), err
}

func (m *MultiWriter) Add(writer io.Writer) *MultiWriter {
	m.writers = append(m.writers, writer)
	return m
}

func (m *MultiWriter) Len() int {
	return len(m.writers)
}

func NewMultiWriter() *MultiWriter {
	return &MultiWriter{writers: make([]io.Writer, 0)}
}

// AddAppender decodes cfg.Options for cfg.Type and adds the writer.
func (m *MultiWriter) AddAppender(cfg AppenderConfig) error {
	switch cfg.Type {
	case AppenderConsole, "":
		var opt ConsoleAppenderOpt
		if err := mapstructure.Decode(cfg.Options, &opt); err != nil {
			return fmt.Errorf("console appender options: %w", err)
		}
		if opt.Stream == "stderr" {
			m.Add(os.Stderr)
		} else {
			m.Add(os.Stdout)
		}
	case AppenderFile:
		var opt FileAppenderOpt
		if err := mapstructure.Decode(cfg.Options, &opt); err != nil {
			return fmt.Errorf("file appender options: %w", err)
		}
		if opt.Filename == "" {
			return fmt.Errorf("file appender requires 'filename'")
		}
		m.AddFileAppender(opt)
	default:
		return fmt.Errorf("unknown appender type %q", cfg.Type)
	}
	return nil
}

func (m *MultiWriter) AddFileAppender(opt FileAppenderOpt) *MultiWriter {
	if opt.MaxSize <= 0 {
		opt.MaxSize = 100
	}
	if opt.MaxBackups <= 0 {
		opt.MaxBackups = 5
	}
	return m.Add(&lumberjack.Logger{
		Filename:   opt.Filename,
		MaxSize:    opt.MaxSize,
		MaxBackups: opt.MaxBackups,
		MaxAge:     opt.MaxAge,
		Compress:   opt.Compress,
	})
}
