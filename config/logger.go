package config

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the application logger. File output rotates through lumberjack.
func NewLogger(cfg LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetReportCaller(cfg.EnableCaller)

	var file io.Writer
	if cfg.Output == "file" || cfg.Output == "both" {
		file = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
	}

	switch cfg.Output {
	case "file":
		logger.SetOutput(file)
	case "both":
		logger.SetOutput(io.MultiWriter(os.Stdout, file))
	default:
		logger.SetOutput(os.Stdout)
	}
	return logger
}
