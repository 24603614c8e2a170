package cli

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type plainFormatter struct{}

var levelList = []string{
	"PANIC",
	"FATAL",
	"ERROR",
	"WARN",
	"INFO",
	"DEBUG",
	"TRACE",
}

func (f *plainFormatter) Format(entry *log.Entry) ([]byte, error) {
	// Example log line:
	// 2024-03-23 12:16:42 INFO skipping rule PatientWeight: address not found
	msg := fmt.Sprintf("%s %s %s\n",
		entry.Time.Format("2006-01-02 15:04:05"),
		levelList[int(entry.Level)],
		entry.Message)
	return []byte(msg), nil
}

// initLogging routes log output to ${logDir}/deid-export.log with
// rotation, or to stderr when no log directory is configured.
func initLogging(logDir string, verbose bool) {
	if verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
	log.SetFormatter(&plainFormatter{})

	if logDir == "" {
		log.SetOutput(os.Stderr)
		return
	}
	logRotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "deid-export.log"),
		MaxSize:    200, // MB
		MaxBackups: 10,
		MaxAge:     30, // days
	}
	log.SetOutput(logRotator)
	log.Info("logging initialised")
}
