// Package logger provides the structured logging interface used across
// civitscraper.
//
// It wraps zerolog with a small interface so components can take a Logger
// and tests can substitute TestLogger or the no-op logger. Console output is
// colourised and written to stderr; when a log file is configured every event
// is also appended there.
//
//	if err := logger.Initialize(&cfg.Logging); err != nil {
//		return err
//	}
//	logger.WithField("username", "alice").Info("Starting download")
//
// Components that accept a nil Logger fall back to GetLogger.
package logger
