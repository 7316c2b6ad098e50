package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger = zerolog.Nop()
	once   sync.Once
)

type Option func(*options)

type options struct {
	fileName string
	console  bool
	level    zerolog.Level
}

// WithFile 输出到文件，按大小滚动
func WithFile(fileName string) Option {
	return func(o *options) {
		o.fileName = fileName
	}
}

func WithConsole() Option {
	return func(o *options) {
		o.console = true
	}
}

// WithLevel 解析失败时保持 info
func WithLevel(level string) Option {
	return func(o *options) {
		if l, err := zerolog.ParseLevel(level); err == nil && l != zerolog.NoLevel {
			o.level = l
		}
	}
}

// Init 初始化全局日志，只生效一次
func Init(serviceName string, opts ...Option) {
	once.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano
		o := &options{level: zerolog.InfoLevel}
		for _, opt := range opts {
			opt(o)
		}

		writers := make([]io.Writer, 0, 2)
		if o.console {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		}
		if o.fileName != "" {
			writers = append(writers, &lumberjack.Logger{
				Filename:   o.fileName,
				MaxSize:    50,
				MaxBackups: 10,
				MaxAge:     14,
				Compress:   true,
			})
		}
		if len(writers) == 0 {
			writers = append(writers, os.Stdout)
		}

		logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
			Level(o.level).
			With().
			Timestamp().
			Str("service", serviceName).
			Logger()
	})
}

// L 全局日志；未初始化时是 Nop
func L() zerolog.Logger {
	return logger
}

// Component 带 component 字段的子日志
func Component(name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
