package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/fachebot/csv-report-bot/internal/config"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger struct {
	*logrus.Logger
	fileLogger *logrus.Logger
}

var defaultLogger *Logger

func init() {
	// 默认只输出到控制台，Setup 之后再挂载文件日志
	defaultLogger = &Logger{
		Logger:     newConsoleLogger(logrus.DebugLevel),
		fileLogger: newFileLogger(io.Discard),
	}
}

func newConsoleLogger(level logrus.Level) *logrus.Logger {
	consoleLogger := logrus.New()
	consoleLogger.SetFormatter(&logrus.TextFormatter{
		ForceColors:   true,
		FullTimestamp: true,
	})
	consoleLogger.SetOutput(os.Stdout)
	consoleLogger.SetLevel(level)
	return consoleLogger
}

func newFileLogger(out io.Writer) *logrus.Logger {
	fileLogger := logrus.New()
	fileLogger.SetFormatter(&logrus.JSONFormatter{
		PrettyPrint:     false,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	fileLogger.SetLevel(logrus.InfoLevel)
	fileLogger.SetOutput(out)
	return fileLogger
}

// Setup 按配置重建日志器：控制台级别可配，文件日志固定 Info 级别并按大小轮转
func Setup(c config.Log) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		level = logrus.DebugLevel
	}
	consoleLogger := newConsoleLogger(level)

	// 创建日志目录
	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		consoleLogger.Errorf("无法创建日志目录: %v", err)
	}

	// 使用lumberjack进行日志轮转
	logFile := &lumberjack.Logger{
		Filename:   filepath.Join(c.Dir, c.Filename),
		MaxSize:    10,
		MaxBackups: 10,
		MaxAge:     30,
		Compress:   true,
	}

	defaultLogger = &Logger{
		Logger:     consoleLogger,
		fileLogger: newFileLogger(logFile),
	}
	if err != nil {
		Warnf("[Logger] 未知日志级别 %q，使用 debug", c.Level)
	}
}

func Infof(format string, args ...any) {
	defaultLogger.Logger.Infof(format, args...)
	defaultLogger.fileLogger.Infof(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.Logger.Warnf(format, args...)
	defaultLogger.fileLogger.Warnf(format, args...)
}

func Errorf(format string, args ...any) {
	defaultLogger.Logger.Errorf(format, args...)
	defaultLogger.fileLogger.Errorf(format, args...)
}

func Fatalf(format string, args ...any) {
	defaultLogger.fileLogger.Errorf(format, args...)
	defaultLogger.Logger.Fatalf(format, args...)
}

func Debugf(format string, args ...any) {
	defaultLogger.Logger.Debugf(format, args...)
	defaultLogger.fileLogger.Debugf(format, args...)
}
