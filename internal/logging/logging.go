// Package logging configures jwalterweatherman for the client. The TUI owns
// the terminal, so logs normally go to a file.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Init enables JWW logging to the given log path with the given threshold.
// An empty path disables logging entirely; "-" logs to stdout.
func Init(threshold jww.Threshold, logPath string) error {
	if threshold < jww.LevelTrace || threshold > jww.LevelFatal {
		return errors.Errorf("invalid log threshold: %d", threshold)
	}

	switch logPath {
	case "":
		jww.SetStdoutOutput(io.Discard)
		jww.SetLogOutput(io.Discard)
		return nil
	case "-":
	default:
		// Disable stdout output
		jww.SetStdoutOutput(io.Discard)

		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return errors.Wrap(err, "failed to create log directory")
		}
		logOutput, err :=
			os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return errors.Wrapf(err, "failed to open log file %s", logPath)
		}
		jww.SetLogOutput(logOutput)
	}

	// Display microseconds if the threshold is set to TRACE or DEBUG
	if threshold == jww.LevelTrace || threshold == jww.LevelDebug {
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
	}

	jww.SetStdoutThreshold(threshold)
	jww.SetLogThreshold(threshold)
	jww.INFO.Printf("Log level set to: %s", threshold)
	return nil
}

// RestyLogger routes resty's client logs into jww.
type RestyLogger struct{}

func (RestyLogger) Errorf(format string, v ...interface{}) { jww.ERROR.Printf(format, v...) }
func (RestyLogger) Warnf(format string, v ...interface{})  { jww.WARN.Printf(format, v...) }
func (RestyLogger) Debugf(format string, v ...interface{}) { jww.DEBUG.Printf(format, v...) }
