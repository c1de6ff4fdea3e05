package logx

import (
	"io"

	"github.com/phuslu/log"
)

// Console returns the logger binaries use.
// https://github.com/phuslu/log?tab=readme-ov-file#pretty-console-writer
func Console(level string) *log.Logger {
	logger := log.DefaultLogger

	logger.Caller = 1
	logger.TimeFormat = "15:04:05"
	logger.Level = log.ParseLevel(level)
	logger.Writer = &log.ConsoleWriter{
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}

	return &logger
}

// OrDiscard returns logger, or a silenced default logger if logger is nil
// (which might be true in tests).
func OrDiscard(logger *log.Logger) *log.Logger {
	if logger != nil {
		return logger
	}
	tmp := log.DefaultLogger
	tmp.Writer = &log.IOWriter{Writer: io.Discard}
	return &tmp
}
