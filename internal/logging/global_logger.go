package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	setupOnce sync.Once

	outputMu   sync.Mutex
	fileOutput *lumberjack.Logger
)

// SetupBaseLogger installs the process-wide logrus formatter. Colors are
// enabled only when stdout is a terminal.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(false)
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:          true,
			TimestampFormat:        "2006-01-02 15:04:05",
			DisableColors:          !term.IsTerminal(int(os.Stdout.Fd())),
			DisableLevelTruncation: true,
			PadLevelText:           true,
		})
		log.SetLevel(log.InfoLevel)
	})
}

// SetLogLevel maps a textual level onto logrus. Unknown values fall back to info.
func SetLogLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "verbose":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn", "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "quiet", "silent":
		log.SetLevel(log.FatalLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// ConfigureLogOutput switches between stdout and a rotating file under dir.
// maxSizeMB bounds one file before rotation; three backups are kept.
func ConfigureLogOutput(toFile bool, dir string, maxSizeMB int) error {
	outputMu.Lock()
	defer outputMu.Unlock()

	if !toFile {
		closeFileOutputLocked()
		log.SetOutput(os.Stdout)
		return nil
	}

	if strings.TrimSpace(dir) == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("logging: create log dir: %w", err)
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}

	closeFileOutputLocked()
	fileOutput = &lumberjack.Logger{
		Filename:   filepath.Join(dir, "boostproxy.log"),
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
		Compress:   true,
	}
	log.SetOutput(io.Writer(fileOutput))
	return nil
}

// CloseLogOutputs flushes and closes the rotating file, if any.
func CloseLogOutputs() {
	outputMu.Lock()
	defer outputMu.Unlock()
	closeFileOutputLocked()
}

func closeFileOutputLocked() {
	if fileOutput == nil {
		return
	}
	if err := fileOutput.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "logging: close log file: %v\n", err)
	}
	fileOutput = nil
}
